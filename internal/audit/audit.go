package audit

import (
	"time"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/xid"
)

// Entry builds an audit entry for actor. An empty actor is recorded as system.
func Entry(actor domain.Actor, action string, entityType string, entityID string, before map[string]string, after map[string]string, at time.Time) domain.AuditEntry {
	name := actor.Username
	if name == "" {
		name = "system"
	}
	return domain.AuditEntry{
		ID:         xid.New("audit"),
		Actor:      name,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		At:         at.UTC(),
	}
}

// Filter narrows a listing of audit entries. Zero fields match everything.
type Filter struct {
	Actor      string
	EntityType string
	Date       string
	Limit      int
}

// Select returns the newest entries matching f first.
func Select(entries []domain.AuditEntry, f Filter) []domain.AuditEntry {
	out := make([]domain.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.Date != "" && e.At.Format("2006-01-02") != f.Date {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
