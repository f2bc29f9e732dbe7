// Package transaction implements the authorization state machine for
// financial transactions: creation with step-up and risk gating, approval
// routing above a threshold, and the pending to approved/rejected
// transition guarded by role and a compare-and-set on status.
package transaction

import (
	"context"
	"errors"
	"time"
)

// Type is the closed set of transaction types.
type Type string

const (
	TypeTransfer   Type = "transfer"
	TypeWithdrawal Type = "withdrawal"
	TypePayment    Type = "payment"
	TypeDeposit    Type = "deposit"
)

// ParseType validates a transaction type string.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeTransfer, TypeWithdrawal, TypePayment, TypeDeposit:
		return Type(s), true
	}
	return "", false
}

// Status is the closed set of transaction states. Completed and failed are
// written by downstream settlement, except the auto-complete shortcut for
// low-value transactions at creation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Decision is a resolution of a pending transaction.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status returns the post-resolution status for the decision.
func (d Decision) Status() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Record is a single transaction. RequiresApproval and the initial status
// are derived once at creation from the amount thresholds and never
// recomputed.
type Record struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	Amount            float64    `json:"amount"`
	Currency          string     `json:"currency"`
	Type              Type       `json:"type"`
	Status            Status     `json:"status"`
	RequiresApproval  bool       `json:"requiresApproval"`
	ApproverID        *string    `json:"approverId,omitempty"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	RiskScore         int        `json:"riskScore"`
	TwoFactorVerified bool       `json:"twoFactorVerified"`
	FromAccount       string     `json:"fromAccount"`
	ToAccount         string     `json:"toAccount"`
	Description       string     `json:"description,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Store errors.
var (
	ErrNotFound   = errors.New("transaction not found")
	ErrNotPending = errors.New("transaction is not pending")
)

// Store persists transaction records.
//
// Resolve must be a compare-and-set keyed on the pending status: of two
// concurrent resolvers exactly one succeeds, the other gets ErrNotPending,
// and approver/approved-at are written together with the status or not at
// all.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListByOwner returns an owner's transactions newest first plus the
	// total count.
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Record, int64, error)

	// ListByStatus returns transactions in the given status newest first
	// plus the total count.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Record, int64, error)

	// Resolve transitions id from pending to status, stamping approver and
	// resolution time in the same update. Returns ErrNotPending if the
	// record exists but is not pending.
	Resolve(ctx context.Context, id string, status Status, approverID string, at time.Time) (*Record, error)
}
