package download

import (
	"errors"
	"fmt"

	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const source = "download"

// Status codes produced by the manager.
const (
	CodeNoRepository     = "REPOSITORY_UNAVAILABLE"
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeSourceFailed     = "REPOSITORY_SOURCE_FAILED"
)

var (
	// ErrNoRepositories is attached to the status returned when requests are
	// pending but no repository is available.
	ErrNoRepositories = errors.New("no artifact repositories available")

	// ErrNilRequest is returned by Add for a nil request.
	ErrNilRequest = errors.New("download request is nil")
)

// Manager collects requests and fetches them across repositories. A Manager
// belongs to one transaction and is not safe for concurrent use.
type Manager struct {
	source  RepositorySource
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	requests []*Request
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *telemetry.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the manager's metrics collector.
func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager resolving repositories from src. A nil src
// behaves as an empty repository list.
func NewManager(src RepositorySource, opts ...ManagerOption) *Manager {
	m := &Manager{
		source:   src,
		requests: make([]*Request, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = telemetry.OrNop(m.logger).NewComponentLogger("download")
	return m
}

// Add queues one request.
func (m *Manager) Add(r *Request) error {
	if r == nil {
		return ErrNilRequest
	}
	m.requests = append(m.requests, r)
	return nil
}

// AddAll queues a batch of requests. Nothing is queued if any is nil.
func (m *Manager) AddAll(requests ...*Request) error {
	for _, r := range requests {
		if r == nil {
			return ErrNilRequest
		}
	}
	m.requests = append(m.requests, requests...)
	return nil
}

// Pending returns the requests not yet fetched.
func (m *Manager) Pending() []*Request {
	return append([]*Request(nil), m.requests...)
}

// Start fetches every queued request. It returns OK when nothing is queued
// or everything was fetched, CANCEL when the caller or a repository
// cancelled, and otherwise a multi-status holding each unfulfilled
// request's failure.
func (m *Manager) Start(mon *progress.Monitor) *status.Status {
	defer mon.Done()
	if len(m.requests) == 0 {
		return status.OK()
	}
	mon.SetWorkRemaining(1000)

	var repositories []Repository
	if m.source != nil {
		var err error
		repositories, err = m.source.Repositories(mon.Context())
		if err != nil {
			st := status.Error(source, "failed to resolve artifact repositories", err)
			st.Code = CodeSourceFailed
			return st
		}
	}
	mon.Worked(500)

	if len(repositories) == 0 {
		st := status.Error(source, "no artifact repositories available", ErrNoRepositories)
		st.Code = CodeNoRepository
		return st
	}

	total := len(m.requests)
	repoCancelled := m.fetch(repositories, mon.NewChild(500))

	fetched := total - len(m.requests)
	m.metrics.RecordDownloads("fetched", fetched)
	m.metrics.RecordDownloads("failed", len(m.requests))

	if repoCancelled || mon.IsCanceled() {
		return status.Cancel(source, "artifact download cancelled")
	}
	return m.overallStatus()
}

// fetch offers the outstanding requests to each repository in order. It
// reports whether a repository returned CANCEL.
func (m *Manager) fetch(repositories []Repository, mon *progress.Monitor) bool {
	mon.SetWorkRemaining(len(m.requests))
	for _, repo := range repositories {
		if len(m.requests) == 0 || mon.IsCanceled() {
			break
		}

		requests := m.requestsFor(repo)
		if len(requests) == 0 {
			continue
		}

		m.logger.WithField("repository", repo.Location()).
			Debugf("fetching %d artifacts", len(requests))

		st := repo.Fetch(requests, mon.NewChild(len(requests)))
		m.metrics.RecordRepositoryFetch(repo.Location(), severityOf(st).String())
		if st != nil && st.Severity == status.SeverityCancel {
			return true
		}

		m.filterUnfetched()
		mon.SetWorkRemaining(len(m.requests))
	}
	return false
}

func (m *Manager) requestsFor(repo Repository) []*Request {
	applicable := make([]*Request, 0, len(m.requests))
	for _, r := range m.requests {
		if repo.Contains(r.Key) {
			applicable = append(applicable, r)
		}
	}
	return applicable
}

// filterUnfetched drops every request whose result is OK, in place.
func (m *Manager) filterUnfetched() {
	kept := m.requests[:0]
	for _, r := range m.requests {
		if !r.Fetched() {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(m.requests); i++ {
		m.requests[i] = nil
	}
	m.requests = kept
}

func (m *Manager) overallStatus() *status.Status {
	if len(m.requests) == 0 {
		return status.OK()
	}

	result := status.NewMulti(source, fmt.Sprintf("%d artifacts could not be fetched", len(m.requests)))
	for _, r := range m.requests {
		failed := r.Result()
		if failed == nil || failed.IsOK() {
			// No repository offered this artifact.
			failed = status.Errorf(source, "artifact %s not found in any repository", r.Key)
			failed.Code = CodeArtifactNotFound
		}
		result.Add(failed)
	}
	return result
}

func severityOf(st *status.Status) status.Severity {
	if st == nil {
		return status.SeverityOK
	}
	return st.Severity
}
