// Package hitl gates high-risk decisions behind human approval. Approval
// requests are durable checkpoint records with CAS-protected state
// transitions, a pending index per approver, and timeout-driven escalation.
package hitl

import (
	"time"

	"github.com/hrygo/opsintent/core"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"

	// StatusEscalated marks a request whose timeout raised a fresh request
	// one escalation level up; the successor's ParentID points back here.
	StatusEscalated Status = "escalated"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool { return s != StatusPending }

// MaxEscalationLevel caps the expiry-driven escalation chain. A request
// expiring at this level is rejected by the system instead of re-raised.
const MaxEscalationLevel = 2

// Request is one approval request. ParentID links escalated requests back
// to the request whose expiry raised them.
type Request struct {
	ID              string                `json:"id"`
	Decision        *core.RoutingDecision `json:"decision"`
	Assessment      *core.RiskAssessment  `json:"assessment"`
	Approver        string                `json:"approver"`
	Status          Status                `json:"status"`
	EscalationLevel int                   `json:"escalation_level"`
	ParentID        string                `json:"parent_id,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	DecidedBy       string                `json:"decided_by,omitempty"`
	DecidedAt       *time.Time            `json:"decided_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
}
