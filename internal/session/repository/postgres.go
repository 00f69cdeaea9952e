package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"propertyhub/backend/internal/db"
	"propertyhub/backend/internal/session/domain"
)

const (
	sessionColumns = `id, user_id, token_digest, session_nonce, issued_at, expires_at, revoked_at, replaced_by, user_agent, ip`

	insertSessionSQL = `INSERT INTO refresh_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, $8)`

	pgUniqueViolation = "23505"
)

// DefaultStoreTimeout bounds detached store mutations when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// PostgresRepository stores refresh sessions in the refresh_sessions table.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// NewPostgresRepository returns a session store backed by db. Mutations are detached from the
// caller's cancellation and bounded by timeout (DefaultStoreTimeout when zero).
func NewPostgresRepository(sqlDB *sql.DB, timeout time.Duration) *PostgresRepository {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &PostgresRepository{db: sqlDB, timeout: timeout, now: time.Now}
}

// detach returns a context that survives client disconnects so a started mutation is
// applied completely or not at all.
func (r *PostgresRepository) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// Create inserts an active session and returns its ID. A digest collision returns ErrIntegrity.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.RefreshSession) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := insertSession(ctx, r.db, s); err != nil {
		return "", err
	}
	return s.ID, nil
}

// FindByDigest returns the session for digest, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByDigest(ctx context.Context, digest string) (*domain.RefreshSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_digest = $1`, digest)
	return scanSession(row)
}

var errNotRotated = errors.New("session not active")

// Rotate retires oldDigest and inserts next in one transaction. The conditional UPDATE takes
// the row lock first, so a concurrent rotation of the same digest blocks, re-evaluates
// revoked_at IS NULL after the winner commits and updates nothing.
func (r *PostgresRepository) Rotate(ctx context.Context, oldDigest string, next *domain.RefreshSession) (bool, error) {
	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()

	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_sessions
			SET revoked_at = $1, replaced_by = $2
			WHERE token_digest = $3 AND revoked_at IS NULL
		`, r.now().UTC(), next.TokenDigest, oldDigest)
		if err != nil {
			return fmt.Errorf("retire session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errNotRotated
		}
		return insertSession(ctx, tx, next)
	})
	if errors.Is(err, errNotRotated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAllForUser revokes every active session of userID. replaced_by stays NULL.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`, r.now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}
	return res.RowsAffected()
}

// RevokeByDigest revokes the session with digest if it is still active.
func (r *PostgresRepository) RevokeByDigest(ctx context.Context, digest string) (bool, error) {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = $1
		WHERE token_digest = $2 AND revoked_at IS NULL
	`, r.now().UTC(), digest)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func insertSession(ctx context.Context, q db.DBTX, s *domain.RefreshSession) error {
	_, err := q.ExecContext(ctx, insertSessionSQL,
		s.ID, s.UserID, s.TokenDigest, s.SessionNonce, s.IssuedAt.UTC(), s.ExpiresAt.UTC(),
		s.Client.UserAgent, s.Client.IP)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate token digest", ErrIntegrity)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanSession(row *sql.Row) (*domain.RefreshSession, error) {
	var (
		s          domain.RefreshSession
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenDigest, &s.SessionNonce, &s.IssuedAt, &s.ExpiresAt,
		&revokedAt, &replacedBy, &s.Client.UserAgent, &s.Client.IP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	if replacedBy.Valid {
		v := replacedBy.String
		s.ReplacedBy = &v
	}
	return &s, nil
}
