package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"pettrack-auth/internal/identity"
	"pettrack-auth/internal/token"
)

const memberColumns = `id, email, name, avatar_url, provider, role, status, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE email = $1
	`, normalizeEmail(email))

	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, fmt.Errorf("query member by email: %w", err)
	}
	return m, nil
}

// FindOrProvision returns the member owning the profile's email, creating a
// pending member on first sight. A concurrent insert for the same email is
// resolved by re-reading the winner's row.
func (r *Repository) FindOrProvision(ctx context.Context, provider identity.Provider, profile identity.Profile) (Member, error) {
	existing, err := r.GetByEmail(ctx, profile.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Member{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Member{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO members (id, email, name, avatar_url, provider, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+memberColumns+`
	`, id.String(), normalizeEmail(profile.Email), profile.Name, profile.AvatarURL, string(provider),
		string(token.RoleUser), string(StatusRegister), now)

	created, err := scanMember(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return r.GetByEmail(ctx, profile.Email)
		}
		return Member{}, fmt.Errorf("insert member: %w", err)
	}
	return created, nil
}

// CompleteRegistration activates a pending member and stores the chosen
// display name.
func (r *Repository) CompleteRegistration(ctx context.Context, email, name string) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE members
		SET status = $3, name = $2, updated_at = $4
		WHERE email = $1 AND status = $5
		RETURNING `+memberColumns+`
	`, normalizeEmail(email), strings.TrimSpace(name), string(StatusActive), time.Now().UTC(), string(StatusRegister))

	m, err := scanMember(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("activate member: %w", err)
	}

	if _, lookupErr := r.GetByEmail(ctx, email); lookupErr != nil {
		return Member{}, lookupErr
	}
	return Member{}, ErrAlreadyRegistered
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE members
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("member status rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStalePending removes at most batchSize members that were provisioned
// before cutoff and never completed signup.
func (r *Repository) DeleteStalePending(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM members
			WHERE status = $1 AND created_at < $2
			ORDER BY created_at ASC
			LIMIT $3
		)
		DELETE FROM members m
		USING stale
		WHERE m.id = stale.id
	`, string(StatusRegister), cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending members: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale pending members rows affected: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (Member, error) {
	var (
		m      Member
		role   string
		status string
	)
	if err := row.Scan(&m.ID, &m.Email, &m.Name, &m.AvatarURL, &m.Provider, &role, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Member{}, err
	}
	m.Role = token.Role(role)
	m.Status = Status(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
