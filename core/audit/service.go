package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

type ctxKey int

const requestInfoKey ctxKey = iota

type (
	// Entry is one recorded action.
	Entry struct {
		ID         int64           `json:"id"`
		UserID     string          `json:"user_id,omitempty"` // actor; empty for anonymous or system actions
		Action     string          `json:"action"`
		EntityType string          `json:"entity_type"`
		EntityID   string          `json:"entity_id"`
		OldValues  json.RawMessage `json:"old_values,omitempty"`
		NewValues  json.RawMessage `json:"new_values,omitempty"`
		IPAddress  string          `json:"ip_address,omitempty"`
		UserAgent  string          `json:"user_agent,omitempty"`
		CreatedAt  time.Time       `json:"created_at"` // UTC
	}

	QueryFilter struct {
		UserID string
		Limit  int
	}

	// RequestInfo describes the client a request came from.
	RequestInfo struct {
		IPAddress string
		UserAgent string
	}

	Repository interface {
		CreateEntry(ctx context.Context, e Entry) (Entry, error)
		// QueryEntries returns the newest entries first.
		QueryEntries(ctx context.Context, filter QueryFilter) ([]Entry, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

var _ core.AuditTrail = (*Service)(nil)

// WithRequestInfo returns a copy of ctx carrying ri.
func WithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, ri)
}

func RequestInfoFrom(ctx context.Context) RequestInfo {
	ri, _ := ctx.Value(requestInfoKey).(RequestInfo)
	return ri
}

func NewService(repo Repository, logger core.Logger) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Service{repo: repo, logger: logger}
}

// Log records an action. Failures are logged, never returned.
func (svc *Service) Log(ctx context.Context, actor core.Caller, action, entityType, entityID string, oldValues, newValues interface{}) {
	ri := RequestInfoFrom(ctx)
	e := Entry{
		UserID:     actor.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		CreatedAt:  core.Now(),
	}

	var err error
	if e.OldValues, err = marshalValues(oldValues); err == nil {
		e.NewValues, err = marshalValues(newValues)
	}
	if err == nil {
		_, err = svc.repo.CreateEntry(ctx, e)
	}
	if err != nil {
		msg := fmt.Sprintf("recording audit entry %q", action)
		svc.logger.Error(msg, errors.Wrap(err, msg), actor)
	}
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	} else if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	return svc.repo.QueryEntries(ctx, filter)
}

func marshalValues(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling values")
	}
	return data, nil
}
