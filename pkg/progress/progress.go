// Package progress provides a cooperative progress and cancellation token
// shared by one provisioning transaction.
//
// A Monitor owns a share of the root work budget expressed in its own local
// units. Children are carved out of a parent's share, so work reported at any
// depth advances the single root counter.
package progress

import (
	"context"
	"sync"
)

// Reporter receives root progress updates. done never exceeds total.
type Reporter func(task string, done, total float64)

type tracker struct {
	mu       sync.Mutex
	task     string
	total    float64
	done     float64
	reporter Reporter
}

func (t *tracker) advance(units float64) {
	if units <= 0 {
		return
	}
	t.mu.Lock()
	t.done += units
	if t.done > t.total {
		t.done = t.total
	}
	done, total, reporter := t.done, t.total, t.reporter
	t.mu.Unlock()

	if reporter != nil {
		reporter(t.task, done, total)
	}
}

// Monitor tracks work for one scope. All methods are safe on a nil *Monitor,
// which never reports progress and is never cancelled.
type Monitor struct {
	ctx    context.Context
	root   *tracker
	budget float64
	units  int
}

// New creates a root monitor with total units of work. The monitor is
// cancelled when ctx is done.
func New(ctx context.Context, task string, total int, reporter Reporter) *Monitor {
	if ctx == nil {
		ctx = context.Background()
	}
	if total < 0 {
		total = 0
	}
	return &Monitor{
		ctx: ctx,
		root: &tracker{
			task:     task,
			total:    float64(total),
			reporter: reporter,
		},
		budget: float64(total),
		units:  total,
	}
}

// Background returns a root monitor that is only cancelled through ctx.
func Background(ctx context.Context) *Monitor {
	return New(ctx, "", 1, nil)
}

// Context returns the cancellation context of the monitor.
func (m *Monitor) Context() context.Context {
	if m == nil || m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// IsCanceled reports whether the owning transaction was cancelled.
func (m *Monitor) IsCanceled() bool {
	if m == nil || m.ctx == nil {
		return false
	}
	return m.ctx.Err() != nil
}

// SetWorkRemaining redistributes the remaining budget over n local units.
func (m *Monitor) SetWorkRemaining(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.units = n
}

// Worked consumes n local units.
func (m *Monitor) Worked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.root.advance(m.take(n))
}

// NewChild carves n local units out of this monitor. The child starts with
// n units of its own and may rescale them with SetWorkRemaining.
func (m *Monitor) NewChild(n int) *Monitor {
	if m == nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	return &Monitor{
		ctx:    m.ctx,
		root:   m.root,
		budget: m.take(n),
		units:  n,
	}
}

// Done reports the rest of this monitor's budget as completed.
func (m *Monitor) Done() {
	if m == nil {
		return
	}
	rest := m.budget
	m.budget = 0
	m.units = 0
	m.root.advance(rest)
}

// Fraction returns the completed share of the root budget in [0, 1].
func (m *Monitor) Fraction() float64 {
	if m == nil {
		return 0
	}
	m.root.mu.Lock()
	defer m.root.mu.Unlock()
	if m.root.total == 0 {
		return 1
	}
	return m.root.done / m.root.total
}

// take removes the budget share of n local units.
func (m *Monitor) take(n int) float64 {
	if m.units <= 0 || m.budget <= 0 {
		return 0
	}
	if n > m.units {
		n = m.units
	}
	share := m.budget * float64(n) / float64(m.units)
	m.budget -= share
	m.units -= n
	return share
}
