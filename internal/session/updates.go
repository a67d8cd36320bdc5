// Package session provides the session-scoped event router for Tether.
// A Router wraps one realtime.Manager bound to a session id: it filters
// inbound envelopes to the active session, decodes them into typed update
// records, and offers session-scoped outbound actions.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/calyptra/tether/internal/realtime"
)

// Update is the decoded form of an inbound session envelope. Envelopes of an
// unrecognized type decode to UnknownUpdate, never an error.
type Update interface {
	updateKind() string
}

// WorkflowStatusUpdate reports progress of a long-running backend workflow.
type WorkflowStatusUpdate struct {
	SessionID   string  `json:"session_id,omitempty"`
	WorkflowID  string  `json:"workflow_id,omitempty"`
	Status      string  `json:"status"`
	CurrentStep string  `json:"current_step,omitempty"`
	Progress    float64 `json:"progress,omitempty"` // 0-100
	Message     string  `json:"message,omitempty"`
}

// AgentExecutionUpdate reports which backend agent is executing and its phase.
type AgentExecutionUpdate struct {
	SessionID string `json:"session_id,omitempty"`
	Agent     string `json:"agent"`
	Phase     string `json:"phase"`
	Detail    string `json:"detail,omitempty"`
}

// TypingIndicatorUpdate mirrors a remote typing indicator.
type TypingIndicatorUpdate struct {
	SessionID string `json:"session_id,omitempty"`
	IsTyping  bool   `json:"is_typing"`
	Source    string `json:"source,omitempty"`
}

// Recommendation is one recommended package inside a RecommendationUpdate.
type Recommendation struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	MonthlyPremium float64 `json:"monthly_premium,omitempty"`
	Score          float64 `json:"score,omitempty"`
}

// RecommendationUpdate delivers a refreshed set of package recommendations.
type RecommendationUpdate struct {
	SessionID string           `json:"session_id,omitempty"`
	Packages  []Recommendation `json:"packages"`
	Reason    string           `json:"reason,omitempty"`
}

// ErrorUpdate reports a server-side error scoped to the session.
type ErrorUpdate struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}

// UnknownUpdate carries an envelope whose type the client does not recognize.
type UnknownUpdate struct {
	Type string
	Data json.RawMessage
}

func (WorkflowStatusUpdate) updateKind() string  { return realtime.MsgTypeWorkflowStatus }
func (AgentExecutionUpdate) updateKind() string  { return realtime.MsgTypeAgentExecution }
func (TypingIndicatorUpdate) updateKind() string { return realtime.MsgTypeTypingUpdate }
func (RecommendationUpdate) updateKind() string  { return realtime.MsgTypeRecommendation }
func (ErrorUpdate) updateKind() string           { return realtime.MsgTypeError }
func (u UnknownUpdate) updateKind() string       { return u.Type }

// DecodeUpdate decodes an inbound envelope into its typed update record. An
// error is only returned when a known type carries a malformed payload.
func DecodeUpdate(env realtime.Envelope) (Update, error) {
	decode := func(v any) error {
		if len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case realtime.MsgTypeWorkflowStatus:
		var u WorkflowStatusUpdate
		if err := decode(&u); err != nil {
			return nil, err
		}
		return u, nil
	case realtime.MsgTypeAgentExecution:
		var u AgentExecutionUpdate
		if err := decode(&u); err != nil {
			return nil, err
		}
		return u, nil
	case realtime.MsgTypeTypingUpdate:
		var u TypingIndicatorUpdate
		if err := decode(&u); err != nil {
			return nil, err
		}
		return u, nil
	case realtime.MsgTypeRecommendation:
		var u RecommendationUpdate
		if err := decode(&u); err != nil {
			return nil, err
		}
		return u, nil
	case realtime.MsgTypeError:
		var u ErrorUpdate
		if err := decode(&u); err != nil {
			return nil, err
		}
		return u, nil
	default:
		return UnknownUpdate{Type: env.Type, Data: env.Data}, nil
	}
}
