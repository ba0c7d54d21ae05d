package boiledrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/storage/database"
)

var (
	accountColumns = []string{
		"id", "name", "email", "password_hash", "role", "status", "email_verified_at",
		"invitation_code_used", "session_version", "last_login", "created_at", "updated_at",
	}
	accountMutableColumns = []string{"name", "role", "status", "email_verified_at", "last_login", "updated_at"}
	profileColumns        = []string{"account_id", "phone", "address", "image", "type", "created_at", "updated_at"}

	accountSelect = `SELECT a.id, a.name, a.email, a.password_hash, a.role, a.status, a.email_verified_at,
       a.invitation_code_used, a.session_version, a.last_login, a.created_at, a.updated_at,
       p.id AS profile_id, p.phone, p.address, p.image, p.type AS profile_type,
       p.created_at AS profile_created_at, p.updated_at AS profile_updated_at
FROM accounts a
LEFT JOIN profiles p ON p.account_id = a.id`

	// orderable columns
	accountOrderings = map[string]string{
		"name":       "LOWER(a.name)",
		"email":      "a.email",
		"created_at": "a.created_at",
	}
)

type accountRow struct {
	ID                 string      `boil:"id"`
	Name               string      `boil:"name"`
	Email              string      `boil:"email"`
	PasswordHash       []byte      `boil:"password_hash"`
	Role               string      `boil:"role"`
	Status             string      `boil:"status"`
	EmailVerifiedAt    null.Time   `boil:"email_verified_at"`
	InvitationCodeUsed null.String `boil:"invitation_code_used"`
	SessionVersion     int         `boil:"session_version"`
	LastLogin          null.Time   `boil:"last_login"`
	CreatedAt          time.Time   `boil:"created_at"`
	UpdatedAt          time.Time   `boil:"updated_at"`

	ProfileID        null.Int64  `boil:"profile_id"`
	Phone            null.String `boil:"phone"`
	Address          null.String `boil:"address"`
	Image            null.String `boil:"image"`
	ProfileType      null.String `boil:"profile_type"`
	ProfileCreatedAt null.Time   `boil:"profile_created_at"`
	ProfileUpdatedAt null.Time   `boil:"profile_updated_at"`
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (r accountRow) unboil() account.Account {
	acc := account.Account{
		ID:                 r.ID,
		Name:               r.Name,
		Email:              r.Email,
		PasswordHash:       r.PasswordHash,
		Role:               r.Role,
		Status:             r.Status,
		EmailVerifiedAt:    utcPtr(r.EmailVerifiedAt),
		InvitationCodeUsed: r.InvitationCodeUsed.Ptr(),
		SessionVersion:     r.SessionVersion,
		LastLogin:          utcPtr(r.LastLogin),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.ProfileID.Valid {
		acc.Profile = &account.Profile{
			ID:        r.ProfileID.Int64,
			AccountID: r.ID,
			Phone:     r.Phone.String,
			Address:   r.Address.String,
			Image:     r.Image.String,
			Type:      r.ProfileType.String,
			CreatedAt: r.ProfileCreatedAt.Time.UTC(),
			UpdatedAt: r.ProfileUpdatedAt.Time.UTC(),
		}
	}
	return acc
}

type accountRepository struct {
	exec core.DBExecutor
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(exec core.DBExecutor) account.Repository {
	return &accountRepository{exec: exec}
}

func (repo accountRepository) CreateAccount(ctx context.Context, acc account.Account, exec ...core.DBExecutor) (account.Account, error) {
	acc.ID = uuid.New().String()
	acc.SessionVersion = 0
	_, err := queries.Raw(insertQuery("accounts", accountColumns),
		acc.ID, acc.Name, acc.Email, acc.PasswordHash, acc.Role, acc.Status,
		null.TimeFromPtr(acc.EmailVerifiedAt), null.StringFromPtr(acc.InvitationCodeUsed),
		acc.SessionVersion, null.TimeFromPtr(acc.LastLogin), acc.CreatedAt.UTC(), acc.UpdatedAt.UTC(),
	).ExecContext(ctx, getExec(repo.exec, exec))
	if err != nil {
		if database.IsUniqueViolation(err, "accounts_email_key") {
			return account.Account{}, account.ErrEmailExists
		}
		return account.Account{}, errors.Wrap(err, "inserting account")
	}
	acc.Profile = nil
	return acc, nil
}

func (repo accountRepository) CreateProfile(ctx context.Context, p account.Profile, exec ...core.DBExecutor) (account.Profile, error) {
	var row struct {
		ID int64 `boil:"id"`
	}
	err := queries.Raw(insertQuery("profiles", profileColumns, "id"),
		p.AccountID, p.Phone, p.Address, p.Image, p.Type, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return account.Profile{}, errors.Wrap(err, "inserting profile")
	}
	p.ID = row.ID
	return p, nil
}

func (repo accountRepository) GetAccount(ctx context.Context, filter account.GetFilter, exec ...core.DBExecutor) (account.Account, error) {
	var q *queries.Query
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return account.Account{}, account.ErrNotFound
		}
		q = queries.Raw(accountSelect+" WHERE a.id = $1", filter.ID)
	case filter.Email != "":
		q = queries.Raw(accountSelect+" WHERE a.email = $1", filter.Email)
	default:
		return account.Account{}, account.ErrNotFound
	}

	var row accountRow
	if err := q.Bind(ctx, getExec(repo.exec, exec), &row); err != nil {
		return account.Account{}, trapNoRowsErr(err, account.ErrNotFound, "finding account")
	}
	return row.unboil(), nil
}

func (repo accountRepository) EmailExists(ctx context.Context, email string, exec ...core.DBExecutor) (bool, error) {
	var row struct {
		Exists bool `boil:"exists"`
	}
	err := queries.Raw(`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1) AS "exists"`, email).
		Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return false, errors.Wrap(err, "checking email")
	}
	return row.Exists, nil
}

func (repo accountRepository) QueryAccounts(
	ctx context.Context,
	filter account.QueryFilter,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]account.Account, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Role != "" {
		args = append(args, filter.Role)
		where = append(where, fmt.Sprintf("a.role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)))
	}

	q := accountSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := accountOrderings[ord.Field]
		if !ok {
			return nil, errors.Errorf("cannot order accounts by %q", ord.Field)
		}
		ord.Field = col
		orderList = append(orderList, ord.String())
	}
	orderList = append(orderList, "a.id ASC")
	q += " ORDER BY " + strings.Join(orderList, ", ")

	var rows []accountRow
	if err := queries.Raw(q, args...).Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	accounts := make([]account.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.unboil())
	}
	return accounts, nil
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acc account.Account, exec ...core.DBExecutor) (account.Account, error) {
	if _, err := uuid.Parse(acc.ID); err != nil {
		return account.Account{}, account.ErrNotFound
	}
	exe := getExec(repo.exec, exec)

	set := strmangle.SetParamNames(`"`, `"`, 1, accountMutableColumns)
	n := len(accountMutableColumns)
	q := fmt.Sprintf(`UPDATE accounts SET %s, "password_hash" = COALESCE($%d, "password_hash") WHERE "id" = $%d`, set, n+1, n+2)
	res, err := queries.Raw(q,
		acc.Name, acc.Role, acc.Status, null.TimeFromPtr(acc.EmailVerifiedAt), null.TimeFromPtr(acc.LastLogin),
		acc.UpdatedAt.UTC(), null.NewBytes(acc.PasswordHash, acc.PasswordHash != nil), acc.ID,
	).ExecContext(ctx, exe)
	if err = rowsAffected(res, err, account.ErrNotFound, "updating account"); err != nil {
		return account.Account{}, err
	}
	return repo.GetAccount(ctx, account.GetFilter{ID: acc.ID}, exe)
}

func (repo accountRepository) BumpSessionVersion(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, account.ErrNotFound
	}
	var row struct {
		SessionVersion int `boil:"session_version"`
	}
	err := queries.Raw(`UPDATE accounts SET session_version = session_version + 1 WHERE id = $1 RETURNING session_version`, id).
		Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return 0, trapNoRowsErr(err, account.ErrNotFound, "bumping session version")
	}
	return row.SessionVersion, nil
}
