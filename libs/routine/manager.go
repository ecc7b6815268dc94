// Package routine runs at most one cancellable goroutine per key, such as one
// fill subscription per watched account.
package routine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Handler does the keyed work until ctx is cancelled or it fails.
type Handler func(ctx context.Context) error

var (
	ErrEmptyID       = errors.New("routine: empty id")
	ErrNoHandler     = errors.New("routine: handler not set")
	ErrRoutineExists = errors.New("routine: already running")
	ErrStopping      = errors.New("routine: manager is stopping")
)

// Task describes one keyed routine.
type Task struct {
	ID      string
	Handler Handler

	// Cooldown keeps the id taken after a failed run so an immediate restart
	// of the same id is refused. Stopping the routine ends it early.
	Cooldown time.Duration

	// OnExit runs once the id is released. err is the handler's failure, nil
	// when the routine ended because it was stopped.
	OnExit func(id string, err error)
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the keyed routines. Every routine's context derives from the
// manager's, so cancelling it stops them all.
type Manager struct {
	ctx   context.Context
	clock quartz.Clock

	mu       sync.Mutex
	routines map[string]*running
	stopping bool
}

func NewManager(ctx context.Context, clock quartz.Clock) *Manager {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Manager{
		ctx:      ctx,
		clock:    clock,
		routines: make(map[string]*running),
	}
}

// Start launches the task unless a routine with the same id is still alive.
func (m *Manager) Start(task Task) error {
	if task.ID == "" {
		return ErrEmptyID
	}
	if task.Handler == nil {
		return ErrNoHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return ErrStopping
	}
	if _, ok := m.routines[task.ID]; ok {
		return ErrRoutineExists
	}
	ctx, cancel := context.WithCancel(m.ctx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.routines[task.ID] = r

	go m.run(ctx, task, r)
	return nil
}

func (m *Manager) run(ctx context.Context, task Task, r *running) {
	defer close(r.done)

	err := task.Handler(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		err = nil
	}
	if err != nil && task.Cooldown > 0 {
		m.cooldown(ctx, task.Cooldown)
	}
	r.cancel()

	// Release the id before OnExit so the hook may start it again.
	m.mu.Lock()
	if m.routines[task.ID] == r {
		delete(m.routines, task.ID)
	}
	m.mu.Unlock()

	if task.OnExit != nil {
		task.OnExit(task.ID, err)
	}
}

func (m *Manager) cooldown(ctx context.Context, d time.Duration) {
	t := m.clock.NewTimer(d, "routine", "cooldown")
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Stop cancels the routine for id and waits until it has exited. It reports
// whether such a routine was running.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	r, ok := m.routines[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

// StopAll refuses new routines, cancels the running ones and waits for them
// until ctx ends.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	all := make([]*running, 0, len(m.routines))
	for _, r := range m.routines {
		all = append(all, r)
	}
	m.mu.Unlock()

	for _, r := range all {
		r.cancel()
	}
	for _, r := range all {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Running reports whether a routine with the given id is alive.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.routines[id]
	return ok
}

// IDs returns the ids of the live routines, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.routines))
	for id := range m.routines {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}
