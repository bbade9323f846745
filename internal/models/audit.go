package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog captures who did what to which entity, with before/after state.
// Write-only from the core's perspective; nothing reads it back.
type AuditLog struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty" db:"actor_user_id"` // nil for system jobs
	ActorRole   string     `json:"actor_role" db:"actor_role"`
	Action      string     `json:"action" db:"action"`
	EntityType  string     `json:"entity_type" db:"entity_type"`
	EntityID    string     `json:"entity_id" db:"entity_id"`
	Before      Metadata   `json:"before,omitempty" db:"before"`
	After       Metadata   `json:"after,omitempty" db:"after"`
	Reason      string     `json:"reason" db:"reason"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
