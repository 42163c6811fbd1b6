package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/postgres/migrations"
	"github.com/points-leaderboard/internal/ranking"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

// dbPool is the subset of *pgxpool.Pool used by Repository
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Repository provides a PostgreSQL-based ledger of users and claim history
type Repository struct {
	db     dbPool
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	r := NewRepositoryWithPool(pool, logger)
	r.pool = pool
	return r, nil
}

// NewRepositoryWithPool wraps an existing pool
func NewRepositoryWithPool(db dbPool, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    utcNow,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.db.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// RunMigrations applies the embedded goose migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	if r.pool == nil {
		return errors.New("migrations require a pgx connection pool")
	}

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("executing migrations: %w", err)
	}

	r.logger.Info("database migrations completed")
	return nil
}

const userColumns = `id::text, name, total_points, created_at, updated_at`

// CreateUser creates a user with a unique name
func (r *Repository) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := domain.NewUser(name, r.now())
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (id, name, total_points, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
	`
	if _, err := r.db.Exec(ctx, query, user.ID, user.Name, user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &user, nil
}

// CreateUsers inserts every valid name that is not already taken and
// returns how many were created
func (r *Repository) CreateUsers(ctx context.Context, names []string) (int, error) {
	ids := make([]string, 0, len(names))
	valid := make([]string, 0, len(names))
	for _, name := range names {
		name = domain.NormalizeName(name)
		if name == "" {
			continue
		}
		ids = append(ids, domain.NewID())
		valid = append(valid, name)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO users (id, name, total_points, created_at, updated_at)
		SELECT u.id::uuid, u.name, 0, $3, $3
		FROM unnest($1::text[], $2::text[]) AS u(id, name)
		ON CONFLICT (name) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, ids, valid, r.now())
	if err != nil {
		return 0, fmt.Errorf("creating users: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountUsers returns the number of users
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// ListUsers returns all users, newest first
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`
	users, err := r.queryUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// IncrementTotal atomically adds delta to a user's total
func (r *Repository) IncrementTotal(ctx context.Context, userID string, delta int64) (*domain.User, error) {
	query := `
		UPDATE users
		SET total_points = total_points + $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + userColumns

	var u domain.User
	err := r.db.QueryRow(ctx, query, userID, delta, r.now()).Scan(
		&u.ID,
		&u.Name,
		&u.TotalPoints,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("incrementing total: %w", err)
	}
	return &u, nil
}

// RankedUsers returns all users in leaderboard order
func (r *Repository) RankedUsers(ctx context.Context) ([]domain.User, error) {
	// The database collation may differ from the ranking collator, so the
	// final order is always settled in Go.
	query := `SELECT ` + userColumns + ` FROM users ORDER BY total_points DESC, updated_at ASC`
	users, err := r.queryUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ranking users: %w", err)
	}
	ranking.Sort(users)
	return users, nil
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.TotalPoints, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AppendHistory records one claim
func (r *Repository) AppendHistory(ctx context.Context, userID string, points int) (*domain.HistoryEntry, error) {
	if !domain.ValidPoints(points) {
		return nil, domain.ErrInvalidPoints
	}

	entry := domain.HistoryEntry{
		ID:        domain.NewID(),
		UserID:    userID,
		Points:    points,
		Timestamp: r.now(),
	}

	query := `
		INSERT INTO history (id, user_id, points, claimed_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, entry.ID, entry.UserID, entry.Points, entry.Timestamp); err != nil {
		return nil, fmt.Errorf("recording history: %w", err)
	}
	return &entry, nil
}

// ListHistory returns a window of the history feed, newest first, joined
// with the current user names
func (r *Repository) ListHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if q.UserID == "" {
		query := `
			SELECT h.id::text, h.user_id::text, u.name, h.points, h.claimed_at
			FROM history h
			LEFT JOIN users u ON u.id = h.user_id
			ORDER BY h.claimed_at DESC, h.id DESC
			LIMIT $1 OFFSET $2
		`
		rows, err = r.db.Query(ctx, query, q.Limit, q.Offset)
	} else {
		query := `
			SELECT h.id::text, h.user_id::text, u.name, h.points, h.claimed_at
			FROM history h
			LEFT JOIN users u ON u.id = h.user_id
			WHERE h.user_id = $1
			ORDER BY h.claimed_at DESC, h.id DESC
			LIMIT $2 OFFSET $3
		`
		rows, err = r.db.Query(ctx, query, q.UserID, q.Limit, q.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	items := make([]domain.HistoryItem, 0, q.Limit)
	for rows.Next() {
		var it domain.HistoryItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.UserName, &it.Points, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return items, nil
}

// CountHistory counts history entries, optionally for one user
func (r *Repository) CountHistory(ctx context.Context, userID string) (int64, error) {
	var (
		count int64
		err   error
	)
	if userID == "" {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM history`).Scan(&count)
	} else {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM history WHERE user_id = $1`, userID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}

// SumHistory returns the total points recorded for a user
func (r *Repository) SumHistory(ctx context.Context, userID string) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(points), 0) FROM history WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("summing history: %w", err)
	}
	return sum, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
