// Package sse implements C12: the persistent MCP-style tool channel over
// Server-Sent Events. A session is opened with GET /mcp/sse and driven by
// POST /mcp/messages/{session}; each session is serviced by its own
// goroutine reading a per-session outbound queue, matching §5's "SSE
// sessions are each serviced by a dedicated logical task" model.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
	"codeintel.dev/registry"
)

const keepaliveInterval = 25 * time.Second

// Event is one SSE frame.
type Event struct {
	Name string      // "ready", "tool_result", "tool_error", "task_update", "ping", "bye"
	Data interface{}
}

// ToolCall is the JSON body POST /mcp/messages/{session} delivers.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolHandler executes a registered tool's call. Fast tools return
// (result, nil) synchronously; long tools submit a C9 task and return the
// task_id as the result, streaming further task_update events themselves
// via the session's Send method.
type ToolHandler func(ctx context.Context, sess *Session, args map[string]interface{}) (interface{}, error)

// Tool is one named tool exposed over the channel.
type Tool struct {
	Name     string
	Requires string // component name gating registration, "" if always available
	Handle   ToolHandler
}

// Session is one open SSE connection: an ordered outbound queue and a
// cancelable context covering every tool call issued on it.
type Session struct {
	ID      string
	out     chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.Once
}

// Send enqueues an event for delivery on this session; events go out in
// the order Send is called. HandleMessage runs each tool call in its own
// goroutine, so the results of concurrent calls can arrive in any order.
// Send blocks while the 32-event buffer is full, until the event is taken
// or the session is closed.
func (s *Session) Send(ev Event) {
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) close() {
	s.closeMu.Do(func() {
		s.cancel()
		close(s.out)
	})
}

// Manager owns every open Session and the tool registry.
type Manager struct {
	reg   *registry.Registry
	log   *logrus.Logger
	tools map[string]Tool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New constructs a Manager. Call RegisterTool for each candidate tool, then
// Initialize to filter by component availability.
func New(reg *registry.Registry, log *logrus.Logger) *Manager {
	return &Manager{
		reg:      reg,
		log:      log,
		tools:    make(map[string]Tool),
		sessions: make(map[string]*Session),
	}
}

// RegisterTool adds a candidate tool; Manifest and Dispatch treat it as
// available only while its Requires component is registered (or it has none).
func (m *Manager) RegisterTool(t Tool) {
	m.tools[t.Name] = t
}

// Initialize is a no-op: tool availability is computed on demand from the
// registry in Manifest, so registration is naturally idempotent per
// §4.12 without a separate filtering pass to repeat here.
func (m *Manager) Initialize(ctx context.Context) error {
	return nil
}

func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Send(Event{Name: "bye"})
		s.close()
	}
	return nil
}

func (m *Manager) Status(ctx context.Context) error { return nil }

// Manifest returns the names of tools currently dispatchable, given which
// components actually initialized.
func (m *Manager) Manifest() []string {
	var names []string
	for name, t := range m.tools {
		if t.Requires == "" || m.reg.Has(t.Requires) {
			names = append(names, name)
		}
	}
	return names
}

// Open starts a new session: registers it, sends the ready event with the
// tool manifest, and returns the session, whose outbound queue the HTTP
// handler streams.
func (m *Manager) Open(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	sess := &Session{
		ID:     uuid.NewString(),
		out:    make(chan Event, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	sess.Send(Event{Name: "ready", Data: map[string]interface{}{
		"session_id": sess.ID,
		"tools":      m.Manifest(),
	}})
	return sess
}

// Close ends a session, per §4.12's disconnect semantics: only this
// session's subscriptions are canceled; underlying C9 tasks are not
// auto-canceled.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		sess.close()
	}
}

func (m *Manager) session(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Dispatch validates and runs a tool call on behalf of sessionID, per
// §4.12's tool dispatch contract.
func (m *Manager) Dispatch(ctx context.Context, sessionID string, raw json.RawMessage) {
	sess, ok := m.session(sessionID)
	if !ok {
		return
	}

	var call ToolCall
	if err := json.Unmarshal(raw, &call); err != nil {
		sess.Send(Event{Name: "tool_error", Data: toolError(call.Name, codeerr.New(codeerr.ValidationFailed, "malformed tool call"))})
		return
	}

	tool, ok := m.tools[call.Name]
	if !ok || (tool.Requires != "" && !m.reg.Has(tool.Requires)) {
		sess.Send(Event{Name: "tool_error", Data: toolError(call.Name, codeerr.New(codeerr.ValidationFailed, "unknown or unavailable tool: "+call.Name))})
		return
	}

	result, err := tool.Handle(sess.ctx, sess, call.Args)
	if err != nil {
		sess.Send(Event{Name: "tool_error", Data: toolError(call.Name, err)})
		return
	}
	sess.Send(Event{Name: "tool_result", Data: map[string]interface{}{"tool": call.Name, "result": result}})
}

func toolError(tool string, err error) map[string]interface{} {
	return map[string]interface{}{
		"tool":    tool,
		"kind":    string(codeerr.KindOf(err)),
		"message": err.Error(),
	}
}

// KeepaliveInterval exposes the ping cadence so the HTTP handler's ticker
// matches §6's "ping (keepalive <=30s)" wire contract.
func KeepaliveInterval() time.Duration { return keepaliveInterval }
