package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

const (
	regoExt = ".rego"

	// reloadDelay coalesces the burst of events an editor produces on save.
	reloadDelay = 500 * time.Millisecond
)

// Source collects trust policies from .rego files and directories. It
// remembers the digest of every file it has read so a reload can tell
// whether the policy set changed at all.
type Source struct {
	paths  []string
	logger zerolog.Logger

	mu      sync.Mutex
	digests map[string]string
}

// NewSource creates a source over paths. Directories are walked
// recursively; files must end in .rego.
func NewSource(logger zerolog.Logger, paths ...string) *Source {
	return &Source{
		paths:   append([]string(nil), paths...),
		logger:  logger.With().Str("component", "policy-source").Logger(),
		digests: make(map[string]string),
	}
}

// Paths returns the configured paths.
func (s *Source) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Collect reads every policy file under the configured paths. A file given
// directly must parse; files found while walking a directory are skipped
// with a warning when they do not. The result is sorted by name.
func (s *Source) Collect(ctx context.Context) ([]Policy, error) {
	_, policies, err := s.collect(ctx)
	return policies, err
}

func (s *Source) collect(ctx context.Context) (bool, []Policy, error) {
	digests := make(map[string]string)
	var policies []Policy

	for _, root := range s.paths {
		info, err := os.Stat(root)
		if err != nil {
			return false, nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			p, sum, err := readPolicy(root)
			if err != nil {
				return false, nil, err
			}
			digests[root] = sum
			policies = append(policies, *p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || filepath.Ext(path) != regoExt {
				return nil
			}
			p, sum, err := readPolicy(path)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			digests[path] = sum
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return false, nil, fmt.Errorf("policy directory %s: %w", root, err)
		}
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	s.mu.Lock()
	changed := !sameDigests(s.digests, digests)
	s.digests = digests
	s.mu.Unlock()

	s.logger.Debug().
		Int("policies", len(policies)).
		Int("paths", len(s.paths)).
		Bool("changed", changed).
		Msg("Policies collected")
	return changed, policies, nil
}

func sameDigests(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// readPolicy parses one .rego file. The policy is named after the file and
// described by the comment block that precedes its package clause.
func readPolicy(path string) (*Policy, string, error) {
	if filepath.Ext(path) != regoExt {
		return nil, "", fmt.Errorf("policy %s: not a %s file", path, regoExt)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", path, err)
	}
	module, err := ast.ParseModule(path, string(data))
	if err != nil {
		return nil, "", fmt.Errorf("policy %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), regoExt),
		Description: leadingComment(module),
		Rego:        string(data),
		Enabled:     true,
		Metadata: map[string]interface{}{
			"source":  path,
			"package": strings.TrimPrefix(module.Package.Path.String(), "data."),
			"digest":  digest,
		},
		LoadedAt: time.Now(),
	}, digest, nil
}

// leadingComment joins the comments above the package clause. Comments
// separated from the clause by a blank line still count, comments after it
// do not.
func leadingComment(module *ast.Module) string {
	pkgRow := module.Package.Location.Row
	var parts []string
	for _, c := range module.Comments {
		if c.Location.Row >= pkgRow {
			break
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Watch calls apply with the full policy set after .rego files under the
// paths change, until ctx is done. The files present when Watch is called
// form the baseline and are not applied; changes that leave every file
// digest unchanged are ignored. A failed reload is logged and the previous
// policies stay in effect.
func (s *Source) Watch(ctx context.Context, apply func([]Policy) error) error {
	if _, _, err := s.collect(ctx); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, root := range s.paths {
		if err := addWatch(watcher, root); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	go s.loop(ctx, watcher, apply)

	s.logger.Info().Strs("paths", s.paths).Msg("Watching trust policies")
	return nil
}

// addWatch registers a file or every directory below root. fsnotify is not
// recursive.
func addWatch(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (s *Source) loop(ctx context.Context, w *fsnotify.Watcher, apply func([]Policy) error) {
	defer w.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatch(w, event.Name)
				}
			}
			if filepath.Ext(event.Name) != regoExt {
				continue
			}
			s.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			timer.Reset(reloadDelay)

		case <-timer.C:
			s.reload(ctx, apply)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (s *Source) reload(ctx context.Context, apply func([]Policy) error) {
	changed, policies, err := s.collect(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to collect policies")
		return
	}
	if !changed {
		return
	}
	if err := apply(policies); err != nil {
		s.logger.Error().Err(err).Msg("Failed to apply reloaded policies")
		return
	}
	s.logger.Info().Int("count", len(policies)).Msg("Trust policies reloaded")
}
