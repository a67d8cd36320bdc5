package session

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/calyptra/tether/internal/logging"
	"github.com/calyptra/tether/internal/realtime"
)

// DefaultTypingInterval is the minimum spacing between outbound typing
// indicator envelopes. Excess signals are dropped, never queued.
const DefaultTypingInterval = 2 * time.Second

// subscribedEvents is the set of event types declared in subscribe_session.
var subscribedEvents = []string{
	realtime.MsgTypeWorkflowStatus,
	realtime.MsgTypeAgentExecution,
	realtime.MsgTypeTypingUpdate,
	realtime.MsgTypeRecommendation,
	realtime.MsgTypeError,
}

// handlerList is an ordered handler registry. Registration returns a disposer
// that removes the handler; calling it twice is safe.
type handlerList[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []handlerSub[T]
}

type handlerSub[T any] struct {
	id int
	fn func(T)
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, handlerSub[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
	}
}

func (l *handlerList[T]) notify(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.subs))
	for _, s := range l.subs {
		fns = append(fns, s.fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Router binds one realtime.Manager to a session id and exposes typed event
// streams plus session-scoped outbound actions. Recovery from connection loss
// is entirely the Manager's business; the Router only re-declares its
// subscription once the Manager reports connected again.
type Router struct {
	mgr    *realtime.Manager
	logger *slog.Logger
	typing *rate.Limiter

	mu            sync.Mutex
	sessionID     string
	unsubEnvelope func()
	unsubStatus   func()

	workflowHandlers handlerList[WorkflowStatusUpdate]
	execHandlers     handlerList[AgentExecutionUpdate]
	typingHandlers   handlerList[TypingIndicatorUpdate]
	recHandlers      handlerList[RecommendationUpdate]
	errorHandlers    handlerList[ErrorUpdate]
	updateHandlers   handlerList[Update]
}

// NewRouter creates a Router over the given Manager. The Manager's lifecycle
// is owned by the Router from here on: Connect and Disconnect go through it.
func NewRouter(mgr *realtime.Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.Session()
	}
	return &Router{
		mgr:    mgr,
		logger: logger,
		typing: rate.NewLimiter(rate.Every(DefaultTypingInterval), 1),
	}
}

// SessionID returns the bound session id, or "" when unbound.
func (r *Router) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// State returns the underlying connection state snapshot.
func (r *Router) State() realtime.State {
	return r.mgr.State()
}

// Connect binds the Router to sessionID and opens the connection with the
// session id as a query parameter. The subscribe_session declaration is sent
// on every successful open, including automatic reconnects.
func (r *Router) Connect(sessionID string) error {
	r.mu.Lock()
	r.sessionID = sessionID
	if r.unsubEnvelope == nil {
		r.unsubEnvelope = r.mgr.On(realtime.MsgTypeAny, r.route)
	}
	if r.unsubStatus == nil {
		r.unsubStatus = r.mgr.OnStatus(func(s realtime.State) {
			if s.Status == realtime.StatusConnected {
				r.sendSubscription()
			}
		})
	}
	r.mu.Unlock()

	return r.mgr.Connect(url.Values{"session_id": {sessionID}})
}

// Disconnect unbinds the session and closes the connection.
func (r *Router) Disconnect() {
	r.mu.Lock()
	r.sessionID = ""
	if r.unsubEnvelope != nil {
		r.unsubEnvelope()
		r.unsubEnvelope = nil
	}
	if r.unsubStatus != nil {
		r.unsubStatus()
		r.unsubStatus = nil
	}
	r.mu.Unlock()

	r.mgr.Disconnect()
}

// OnStatus subscribes to connection state transitions of the underlying
// Manager. Useful for "reconnecting" indicators in the UI.
func (r *Router) OnStatus(fn func(realtime.State)) func() {
	return r.mgr.OnStatus(fn)
}

// OnWorkflowStatus subscribes to workflow status updates for the bound session.
func (r *Router) OnWorkflowStatus(fn func(WorkflowStatusUpdate)) func() {
	return r.workflowHandlers.add(fn)
}

// OnAgentExecution subscribes to agent execution updates for the bound session.
func (r *Router) OnAgentExecution(fn func(AgentExecutionUpdate)) func() {
	return r.execHandlers.add(fn)
}

// OnTyping subscribes to remote typing indicator updates.
func (r *Router) OnTyping(fn func(TypingIndicatorUpdate)) func() {
	return r.typingHandlers.add(fn)
}

// OnRecommendation subscribes to package recommendation updates.
func (r *Router) OnRecommendation(fn func(RecommendationUpdate)) func() {
	return r.recHandlers.add(fn)
}

// OnError subscribes to server-side error events for the bound session.
func (r *Router) OnError(fn func(ErrorUpdate)) func() {
	return r.errorHandlers.add(fn)
}

// OnUpdate subscribes to every decoded update, including unknown types.
func (r *Router) OnUpdate(fn func(Update)) func() {
	return r.updateHandlers.add(fn)
}

// SendTypingIndicator signals whether the user is typing. Sends are
// fire-and-forget and throttled; a no-op when no session is bound.
func (r *Router) SendTypingIndicator(active bool) {
	sessionID := r.SessionID()
	if sessionID == "" {
		return
	}
	if !r.typing.Allow() {
		return
	}
	r.send(realtime.MsgTypeTypingIndicator, sessionID, map[string]bool{"is_typing": active})
}

// SendWorkflowCancellation asks the backend to cancel the running workflow.
// Fire-and-forget; a no-op when no session is bound.
func (r *Router) SendWorkflowCancellation() {
	sessionID := r.SessionID()
	if sessionID == "" {
		return
	}
	r.send(realtime.MsgTypeCancelWorkflow, sessionID, nil)
}

// RequestWorkflowStatus asks the backend for a one-shot status report.
// Fire-and-forget; a no-op when no session is bound.
func (r *Router) RequestWorkflowStatus() {
	sessionID := r.SessionID()
	if sessionID == "" {
		return
	}
	r.send(realtime.MsgTypeGetWorkflowStatus, sessionID, nil)
}

// sendSubscription declares the session's event interests to the server.
func (r *Router) sendSubscription() {
	sessionID := r.SessionID()
	if sessionID == "" {
		return
	}
	if r.send(realtime.MsgTypeSubscribeSession, sessionID, map[string][]string{"events": subscribedEvents}) {
		r.logger.Debug("session subscribed", "session_id", sessionID)
	}
}

func (r *Router) send(msgType, sessionID string, data any) bool {
	env := realtime.Envelope{Type: msgType, SessionID: sessionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			r.logger.Error("failed to marshal payload", "type", msgType, "error", err)
			return false
		}
		env.Data = raw
	}
	return r.mgr.SendEnvelope(env)
}

// route filters inbound envelopes to the bound session and fans matching
// ones out to the typed handler sets. Envelopes carrying a different session
// id are dropped silently so a reused Manager cannot leak across sessions.
func (r *Router) route(env realtime.Envelope) {
	sessionID := r.SessionID()
	if sessionID == "" {
		return
	}
	if env.SessionID != "" && env.SessionID != sessionID {
		r.logger.Debug("dropping cross-session envelope",
			"type", env.Type, "envelope_session", env.SessionID)
		return
	}

	update, err := DecodeUpdate(env)
	if err != nil {
		r.logger.Warn("malformed update payload", "type", env.Type, "error", err)
		return
	}

	switch u := update.(type) {
	case WorkflowStatusUpdate:
		r.workflowHandlers.notify(u)
	case AgentExecutionUpdate:
		r.execHandlers.notify(u)
	case TypingIndicatorUpdate:
		r.typingHandlers.notify(u)
	case RecommendationUpdate:
		r.recHandlers.notify(u)
	case ErrorUpdate:
		r.errorHandlers.notify(u)
	}
	r.updateHandlers.notify(update)
}
