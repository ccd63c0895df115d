package models

import "time"

// AuditEntry records who changed what, when and why. Entries are written in
// the same commit as the change they describe.
type AuditEntry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
