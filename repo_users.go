package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Users is the bun backed user repository
type Users interface {
	UserStore

	FindByIDTx(ctx context.Context, tx bun.IDB, userID string) (Identity, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	SetRoleTx(ctx context.Context, tx bun.IDB, userID string, role Role) error
	SetMembership(ctx context.Context, userID string, expiry *time.Time, autoPayment bool) error
}

type users struct {
	db  *bun.DB
	now Clock
}

var _ Users = (*users)(nil)

// UsersOption configures the repository
type UsersOption func(*users)

// WithUsersClock sets the clock used for created_at/updated_at
func WithUsersClock(clock Clock) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUsersRepository creates a Users repository over db
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := &users{
		db:  db,
		now: systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *users) FindByID(ctx context.Context, userID string) (Identity, error) {
	return a.FindByIDTx(ctx, a.db, userID)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, userID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, ErrPrincipalNotFound
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Column("id", "email", "role", "membership_expiry", "auto_payment").
		Where("?TableAlias.id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return Identity{}, storeError(err, "id", userID)
	}

	return record.Identity(), nil
}

// FindUser returns the full user record, password hash included
func (a *users) FindUser(ctx context.Context, userID string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, storeError(err, "id", userID)
	}
	return record, nil
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrPrincipalNotFound
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, storeError(err, "email", email)
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, user *User) (*User, error) {
	var created *User
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = a.CreateTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, DeriveError(ErrValidation, "user is required", nil)
	}

	a.prepareUserDefaults(user)

	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", user.Email).
		Exists(ctx)
	if err != nil {
		return nil, storeError(err, "email", user.Email)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, storeError(err, "email", user.Email)
	}

	return user, nil
}

// DowngradeExpiredMember sets role to non_member if the stored row is still
// a member whose membership expired before asOf.
func (a *users) DowngradeExpiredMember(ctx context.Context, userID string, asOf time.Time) (bool, error) {
	changed := false
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &User{}
		q := tx.NewSelect().
			Model(record).
			Column("id", "role", "membership_expiry").
			Where("?TableAlias.id = ?", userID).
			Limit(1)
		if a.db.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return storeError(err, "id", userID)
		}

		if !record.Identity().MembershipExpired(asOf) {
			return nil
		}

		res, err := tx.NewUpdate().
			Model((*User)(nil)).
			Set("role = ?", RoleNonMember).
			Set("updated_at = ?", a.now()).
			Where("id = ?", userID).
			Where("role = ?", RoleMember).
			Exec(ctx)
		if err != nil {
			return storeError(err, "id", userID)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return storeError(err, "id", userID)
		}
		changed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (a *users) SetRole(ctx context.Context, userID string, role Role) error {
	return a.SetRoleTx(ctx, a.db, userID, role)
}

func (a *users) SetRoleTx(ctx context.Context, tx bun.IDB, userID string, role Role) error {
	if !role.IsValid() {
		return DeriveError(ErrValidation, "Invalid role", nil)
	}

	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", a.now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return storeError(err, "id", userID)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return WrapError(ErrPrincipalNotFound, nil).WithMetadata(map[string]any{"id": userID})
	}

	return nil
}

// SetMembership records a membership purchase or renewal
func (a *users) SetMembership(ctx context.Context, userID string, expiry *time.Time, autoPayment bool) error {
	q := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("auto_payment = ?", autoPayment).
		Set("updated_at = ?", a.now()).
		Where("id = ?", userID)
	if expiry != nil {
		q = q.Set("membership_expiry = ?", expiry.UTC())
	} else {
		q = q.Set("membership_expiry = NULL")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return storeError(err, "id", userID)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return WrapError(ErrPrincipalNotFound, nil).WithMetadata(map[string]any{"id": userID})
	}

	return nil
}

func (a *users) prepareUserDefaults(record *User) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if record.Role == "" {
		record.Role = RoleNonMember
	}

	record.Email = normalizeEmail(record.Email)

	if record.MembershipExpiry != nil {
		exp := record.MembershipExpiry.UTC()
		record.MembershipExpiry = &exp
	}

	now := a.now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// storeError maps driver errors into the package taxonomy
func storeError(err error, field string, value string) error {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}

	if errors.Is(err, sql.ErrNoRows) {
		return WrapError(ErrPrincipalNotFound, nil).WithMetadata(map[string]any{field: value})
	}

	return WrapError(ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
