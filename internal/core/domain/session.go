package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Session Status
// =============================================================================

// SessionStatus is the lifecycle state of a retry session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionWaiting   SessionStatus = "waiting"
	SessionSucceeded SessionStatus = "succeeded"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is final. A session never leaves a
// terminal status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionSucceeded, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// =============================================================================
// Deploy Request / Outcome
// =============================================================================

// DeployRequest describes one contract deployment target.
type DeployRequest struct {
	WasmPath string `json:"wasm_path"`
	Source   string `json:"source"`
	Network  string `json:"network"`
}

// DeployOutcome is the successful result of a deploy operation.
type DeployOutcome struct {
	ContractID string `json:"contract_id"`
	TxHash     string `json:"tx_hash,omitempty"`
	Raw        string `json:"-"`
}

// =============================================================================
// Attempt
// =============================================================================

// Attempt records one execution of the deploy operation within a session.
// Immutable once appended.
type Attempt struct {
	Number     int           `json:"number"` // 1-based
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`

	// NextDelay is the backoff applied before the following attempt.
	// Zero on the terminal attempt.
	NextDelay time.Duration `json:"next_delay,omitempty"`
}

// =============================================================================
// Session
// =============================================================================

// Session is the full history of one Deploy call: every attempt made, the
// final status, and the resulting on-chain identifiers on success.
type Session struct {
	ID         string        `json:"id"`
	WasmPath   string        `json:"wasm_path"`
	Network    string        `json:"network"`
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Status     SessionStatus `json:"status"`
	Attempts   []Attempt     `json:"attempts"`
	ContractID string        `json:"contract_id,omitempty"`
	TxHash     string        `json:"tx_hash,omitempty"`
	Summary    string        `json:"summary,omitempty"`
}

// NewSession creates an idle session for the given request.
func NewSession(req DeployRequest) *Session {
	return &Session{
		ID:        uuid.NewString(),
		WasmPath:  req.WasmPath,
		Network:   req.Network,
		Source:    req.Source,
		StartedAt: time.Now().UTC(),
		Status:    SessionIdle,
	}
}

// LastAttempt returns the most recent attempt, or nil if none were made.
func (s *Session) LastAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}
