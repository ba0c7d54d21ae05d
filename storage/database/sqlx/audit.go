package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/audit"
)

type auditRow struct {
	ID         int64          `db:"id"`
	UserID     sql.NullString `db:"user_id"`
	Action     string         `db:"action"`
	EntityType string         `db:"entity_type"`
	EntityID   string         `db:"entity_id"`
	OldValues  []byte         `db:"old_values"`
	NewValues  []byte         `db:"new_values"`
	IPAddress  string         `db:"ip_address"`
	UserAgent  string         `db:"user_agent"`
	CreatedAt  time.Time      `db:"created_at"`
}

type insertAuditRow struct {
	UserID     sql.NullString `db:"user_id"`
	Action     string         `db:"action"`
	EntityType string         `db:"entity_type"`
	EntityID   string         `db:"entity_id"`
	OldValues  sql.NullString `db:"old_values"`
	NewValues  sql.NullString `db:"new_values"`
	IPAddress  string         `db:"ip_address"`
	UserAgent  string         `db:"user_agent"`
	CreatedAt  time.Time      `db:"created_at"`
}

func jsonParam(raw []byte) sql.NullString {
	return sql.NullString{String: string(raw), Valid: raw != nil}
}

type auditRepository struct {
	db *sqlx.DB
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *sql.DB) audit.Repository {
	return &auditRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo auditRepository) CreateEntry(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	row := insertAuditRow{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		OldValues:  jsonParam(e.OldValues),
		NewValues:  jsonParam(e.NewValues),
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		CreatedAt:  e.CreatedAt.UTC(),
	}
	// user_id references accounts: system actors are recorded as NULL
	if _, err := uuid.Parse(e.UserID); err == nil {
		row.UserID = sql.NullString{String: e.UserID, Valid: true}
	}

	rows, err := repo.db.NamedQueryContext(ctx, `INSERT INTO audit_logs
    (user_id, action, entity_type, entity_id, old_values, new_values, ip_address, user_agent, created_at)
VALUES
    (:user_id, :action, :entity_type, :entity_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)
RETURNING id`, row)
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "inserting audit entry")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err = rows.Err(); err == nil {
			err = sql.ErrNoRows
		}
		return audit.Entry{}, errors.Wrap(err, "inserting audit entry")
	}
	if err = rows.Scan(&e.ID); err != nil {
		return audit.Entry{}, errors.Wrap(err, "scanning audit entry id")
	}
	return e, nil
}

func (repo auditRepository) QueryEntries(ctx context.Context, filter audit.QueryFilter) ([]audit.Entry, error) {
	q := `SELECT id, user_id, action, entity_type, entity_id, old_values, new_values, ip_address, user_agent, created_at
FROM audit_logs`
	var args []interface{}
	if filter.UserID != "" {
		if _, err := uuid.Parse(filter.UserID); err != nil {
			return []audit.Entry{}, nil
		}
		q += " WHERE user_id = ?"
		args = append(args, filter.UserID)
	}
	q += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []auditRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying audit entries")
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, audit.Entry{
			ID:         r.ID,
			UserID:     r.UserID.String,
			Action:     r.Action,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			OldValues:  r.OldValues,
			NewValues:  r.NewValues,
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			CreatedAt:  r.CreatedAt.UTC(),
		})
	}
	return entries, nil
}
