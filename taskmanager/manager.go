package taskmanager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
)

// Config configures a Manager.
type Config struct {
	Workers     int
	QueueDepth  int
	RetryLimits map[string]int // task type -> max attempts beyond the first
}

type subscription struct {
	ch chan Task
}

// Manager is C9, a bounded-queue worker pool dispatching tasks by type.
type Manager struct {
	cfg      Config
	store    *taskStore
	log      *logrus.Logger
	handlers map[string]Handler

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	tasks  map[string]*Task
	cancel map[string]context.CancelFunc
	subs   map[string][]*subscription
}

// New constructs a Manager. Register handlers with RegisterHandler before
// calling Initialize.
func New(dir string, cfg Config, log *logrus.Logger) (*Manager, error) {
	store, err := newTaskStore(dir)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.InternalError, "opening task store", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		log:      log,
		handlers: make(map[string]Handler),
		queue:    make(chan string, cfg.QueueDepth),
		stop:     make(chan struct{}),
		tasks:    make(map[string]*Task),
		cancel:   make(map[string]context.CancelFunc),
		subs:     make(map[string][]*subscription),
	}, nil
}

// RegisterHandler binds a task type to its executor. Must be called before
// Initialize starts the worker pool.
func (m *Manager) RegisterHandler(taskType string, h Handler) {
	m.handlers[taskType] = h
}

// Initialize reconciles any task left `running` by a prior process (marked
// `failed` with `interrupted`, per §4.9's crash semantics) and starts the
// worker pool.
func (m *Manager) Initialize(ctx context.Context) error {
	existing, err := m.store.List()
	if err != nil {
		return codeerr.Wrap(codeerr.InternalError, "listing tasks at startup", err)
	}
	for _, t := range existing {
		if t.State == StateRunning {
			t.State = StateFailed
			t.ErrorKind = string(codeerr.InternalError)
			t.Error = "interrupted by process restart"
			t.UpdatedAt = time.Now()
			if err := m.store.Write(t); err != nil {
				m.log.WithError(err).WithField("task_id", t.ID).Warn("taskmanager: failed to persist interrupted-task reconciliation")
			}
		}
		tc := t
		m.mu.Lock()
		m.tasks[tc.ID] = &tc
		m.mu.Unlock()
		if tc.State == StateQueued {
			select {
			case m.queue <- tc.ID:
			default:
				m.log.WithField("task_id", tc.ID).Warn("taskmanager: queue full while re-enqueuing a persisted queued task at startup")
			}
		}
	}

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.runWorker(i)
	}
	return nil
}

// Cleanup stops the workers from taking further tasks off the queue and
// waits for in-flight tasks to finish. Submit still enqueues afterwards.
func (m *Manager) Cleanup(ctx context.Context) error {
	close(m.stop)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Status(ctx context.Context) error { return nil }

// Submit allocates a queued Task and enqueues it, failing with `queue-full`
// if the queue is already at capacity.
func (m *Manager) Submit(ctx context.Context, taskType string, input map[string]interface{}) (string, error) {
	if _, ok := m.handlers[taskType]; !ok {
		return "", codeerr.New(codeerr.ValidationFailed, "unknown task type: "+taskType)
	}

	now := time.Now()
	t := Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Input:     input,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Write(t); err != nil {
		return "", codeerr.Wrap(codeerr.InternalError, "persisting task", err)
	}

	// Record the task before enqueueing it: a worker that dequeues an id
	// it cannot find drops it.
	m.mu.Lock()
	m.tasks[t.ID] = &t
	snapshot := t
	m.mu.Unlock()

	select {
	case m.queue <- t.ID:
	default:
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return "", codeerr.New(codeerr.QueueFull, "task queue is at capacity")
	}

	m.notify(snapshot)
	return t.ID, nil
}

// Get returns the current snapshot of a task.
func (m *Manager) Get(taskID string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Cancel transitions a queued task to canceled, or signals cooperative
// cancellation to a running one. Terminal tasks are a no-op.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return codeerr.New(codeerr.NotFound, "task not found")
	}
	if t.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if t.State == StateQueued {
		t.State = StateCanceled
		t.UpdatedAt = time.Now()
		snapshot := *t
		cancelFn := m.cancel[taskID]
		m.mu.Unlock()
		if cancelFn != nil {
			cancelFn()
		}
		_ = m.store.Write(snapshot)
		m.notify(snapshot)
		return nil
	}
	// running: signal cooperative cancellation; the worker transitions it
	// to canceled once the handler observes ctx.Done().
	cancelFn := m.cancel[taskID]
	m.mu.Unlock()
	if cancelFn != nil {
		cancelFn()
	}
	return nil
}

// Subscribe returns a channel of Task snapshots for taskID, closed once the
// task reaches a terminal state. Multiple subscribers are permitted.
func (m *Manager) Subscribe(taskID string) (<-chan Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	ch := make(chan Task, 8)
	sub := &subscription{ch: ch}
	m.subs[taskID] = append(m.subs[taskID], sub)

	snapshot := *t
	ch <- snapshot
	if snapshot.State.Terminal() {
		close(ch)
		m.removeSub(taskID, sub)
	}
	return ch, true
}

func (m *Manager) removeSub(taskID string, target *subscription) {
	subs := m.subs[taskID]
	for i, s := range subs {
		if s == target {
			m.subs[taskID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// notify broadcasts t to every subscriber, closing their channels once t is
// terminal.
func (m *Manager) notify(t Task) {
	m.mu.Lock()
	subs := append([]*subscription{}, m.subs[t.ID]...)
	m.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- t:
		default:
		}
		if t.State.Terminal() {
			close(s.ch)
			m.mu.Lock()
			m.removeSub(t.ID, s)
			m.mu.Unlock()
		}
	}
}

func (m *Manager) runWorker(id int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case taskID, ok := <-m.queue:
			if !ok {
				return
			}
			m.process(taskID)
		}
	}
}

func (m *Manager) process(taskID string) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok || t.State != StateQueued {
		m.mu.Unlock()
		return // canceled while queued, or unknown
	}
	handler := m.handlers[t.Type]
	t.State = StateRunning
	t.Attempts++
	t.UpdatedAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel[taskID] = cancel
	running := *t
	m.mu.Unlock()

	_ = m.store.Write(running)
	m.notify(running)

	result, err := m.invoke(ctx, handler, running)

	m.mu.Lock()
	delete(m.cancel, taskID)
	t = m.tasks[taskID]
	m.mu.Unlock()

	if ctx.Err() != nil && err != nil {
		m.finish(taskID, StateCanceled, nil, "", "")
		return
	}

	if err == nil {
		m.finish(taskID, StateSucceeded, result, "", "")
		return
	}

	limit := m.cfg.RetryLimits[t.Type]
	if isRetryable(err) && t.Attempts <= limit {
		m.mu.Lock()
		t.State = StateQueued
		t.UpdatedAt = time.Now()
		snapshot := *t
		m.mu.Unlock()
		_ = m.store.Write(snapshot)
		m.notify(snapshot)
		select {
		case m.queue <- taskID: // re-enqueued at the tail, never the head
		default:
			m.finish(taskID, StateFailed, nil, string(codeerr.QueueFull), "queue full on retry re-enqueue")
		}
		return
	}

	m.finish(taskID, StateFailed, nil, string(codeerr.KindOf(err)), err.Error())
}

// invoke runs handler with panic recovery: a panicking handler marks the
// task failed{internal-error} and this worker goroutine simply continues
// its loop, which is the "worker is replaced" semantics of §4.9 — no new
// goroutine is needed because the panic never escapes this frame.
func (m *Manager) invoke(ctx context.Context, handler Handler, t Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = codeerr.New(codeerr.InternalError, "task handler panicked")
		}
	}()
	return handler(ctx, t.Input)
}

func (m *Manager) finish(taskID string, state State, result interface{}, errKind, errMsg string) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	t.State = state
	t.Result = result
	t.ErrorKind = errKind
	t.Error = errMsg
	t.UpdatedAt = time.Now()
	snapshot := *t
	m.mu.Unlock()

	_ = m.store.Write(snapshot)
	m.notify(snapshot)
}
