package core

import "context"

// AuditTrail records who did what. Implementations must never fail the calling operation.
type AuditTrail interface {
	Log(ctx context.Context, actor Caller, action, entityType, entityID string, oldValues, newValues interface{})
}
