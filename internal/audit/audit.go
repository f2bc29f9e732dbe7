// Package audit maintains the append-only ledger of security-relevant
// events. Events are written once and never updated or deleted; appends are
// best-effort relative to the primary operation that triggered them.
package audit

import (
	"context"
	"time"
)

// Action is the closed set of auditable operations.
type Action string

const (
	ActionLogin              Action = "login"
	ActionUserCreate         Action = "user_create"
	ActionStepUpVerify       Action = "2fa_verify"
	ActionStepUpEnable       Action = "2fa_enable"
	ActionStepUpDisable      Action = "2fa_disable"
	ActionTransactionCreate  Action = "transaction_create"
	ActionTransactionApprove Action = "transaction_approve"
	ActionTransactionReject  Action = "transaction_reject"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLogin, ActionUserCreate, ActionStepUpVerify, ActionStepUpEnable,
		ActionStepUpDisable, ActionTransactionCreate, ActionTransactionApprove,
		ActionTransactionReject:
		return true
	}
	return false
}

// Event is a single immutable audit record. Actor email and role are
// denormalized at write time so history stays accurate even if the
// identity later changes.
type Event struct {
	ID           string            `json:"id"`
	Action       Action            `json:"action"`
	ActorID      string            `json:"actorId"`
	ActorEmail   string            `json:"actorEmail"`
	ActorRole    string            `json:"actorRole"`
	ResourceID   string            `json:"resourceId,omitempty"`
	ResourceType string            `json:"resourceType,omitempty"`
	IPAddress    string            `json:"ipAddress,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Filter narrows audit queries. Zero values mean "any".
type Filter struct {
	ActorID    string
	Action     Action
	ResourceID string
	From       time.Time
	To         time.Time
	// Before is the snapshot upper bound: only events created at or before
	// it are returned. Fixing it across pages keeps pagination stable while
	// the ledger keeps growing.
	Before time.Time
}

// Store persists audit events. Append-only: no update or delete exists.
type Store interface {
	Append(ctx context.Context, event *Event) error
	// Query returns events matching the filter ordered by creation time
	// descending (ID descending as tiebreak), plus the total match count.
	Query(ctx context.Context, f Filter, limit, offset int) ([]*Event, int64, error)
}
