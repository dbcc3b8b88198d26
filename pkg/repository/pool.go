// Package repository provides artifact repositories for the download
// manager: a local directory and a remote directory served over SFTP.
//
// Both store an artifact under <root>/<classifier>/<id>_<version>. Fetch
// processes its requests with a bounded pool of workers.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/provengine/pkg/download"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const (
	source = "repository"

	// DefaultWorkers is the default number of concurrent transfers per Fetch.
	DefaultWorkers = 4
)

// Option configures a repository.
type Option func(*options)

type options struct {
	workers int
	logger  *telemetry.Logger
}

// WithWorkers bounds the number of concurrent transfers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{workers: DefaultWorkers}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	o.logger = telemetry.OrNop(o.logger).NewComponentLogger(component)
	return o
}

type fetchFunc func(ctx context.Context, r *download.Request) error

// fetchAll runs fetch for every request on up to workers goroutines and
// sets each request's result. Requests not started before cancellation get
// a CANCEL result.
func fetchAll(location string, requests []*download.Request, workers int, m *progress.Monitor, fetch fetchFunc) *status.Status {
	ctx := m.Context()
	m.SetWorkRemaining(len(requests))

	if len(requests) < workers {
		workers = len(requests)
	}

	queue := make(chan *download.Request, len(requests))
	for _, r := range requests {
		queue <- r
	}
	close(queue)

	done := make(chan struct{}, len(requests))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range queue {
				if ctx.Err() != nil {
					r.SetResult(status.Cancel(source, fmt.Sprintf("fetch of %s cancelled", r.Key)))
					done <- struct{}{}
					continue
				}
				if err := fetch(ctx, r); err != nil {
					r.SetResult(status.Error(source, fmt.Sprintf("failed to fetch %s from %s", r.Key, location), err))
				} else {
					r.SetResult(status.OK())
				}
				done <- struct{}{}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	// The monitor is only touched from this goroutine.
	for range done {
		m.Worked(1)
	}

	result := status.NewMulti(source, fmt.Sprintf("fetch from %s", location))
	for _, r := range requests {
		result.MergeNonOK(r.Result())
	}
	if ctx.Err() != nil {
		result.Add(status.Cancel(source, "fetch cancelled"))
	}
	return result
}
