// Package postgres is the durable Store backed by PostgreSQL.
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

	"github.com/rewards-ledger/internal/config"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	lockTimeout time.Duration
}

var _ store.Store = (*Repository)(nil)

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

	return connect(ctx, poolConfig, logger)
}

func connect(ctx context.Context, poolConfig *pgxpool.Config, logger *slog.Logger) (*Repository, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// SetLockTimeout bounds how long a transaction waits on a row lock. Expiry
// surfaces as domain.ErrConflict so the caller can retry.
func (r *Repository) SetLockTimeout(d time.Duration) {
	r.lockTimeout = d
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			version BIGINT NOT NULL DEFAULT 1,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			user_id VARCHAR(64) NOT NULL,
			type VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_records (
			user_id VARCHAR(64) NOT NULL,
			activity_id VARCHAR(128) NOT NULL,
			levels_completed INT NOT NULL DEFAULT 0,
			total_levels INT NOT NULL DEFAULT 0,
			total_coins_earned BIGINT NOT NULL DEFAULT 0,
			fully_completed BOOLEAN NOT NULL DEFAULT false,
			replay_unlocked BOOLEAN NOT NULL DEFAULT false,
			last_completed_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, activity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_progressions (
			user_id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(64) NOT NULL DEFAULT '',
			xp BIGINT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 1,
			streak INT NOT NULL DEFAULT 0,
			last_check_in TIMESTAMPTZ,
			weekly_xp BIGINT NOT NULL DEFAULT 0,
			rank INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS xp_events (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			source VARCHAR(128) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS badges (
			user_id VARCHAR(64) NOT NULL,
			badge_id VARCHAR(128) NOT NULL,
			earned_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, badge_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_events_created ON xp_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_progressions_xp ON user_progressions(xp DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// WithinTx runs fn in one database transaction. Serialization failures,
// deadlocks and lock timeouts are reported as domain.ErrConflict.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	dbTx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("beginning transaction: %w", err))
	}
	defer dbTx.Rollback(context.Background()) //nolint:errcheck

	if r.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := dbTx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return mapError(fmt.Errorf("setting lock timeout: %w", err))
		}
	}

	tx := &pgTx{tx: dbTx}
	if err := fn(tx); err != nil {
		return mapError(err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("committing transaction: %w", err))
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// mapError turns contention reported by PostgreSQL into the retryable
// domain error and a balance check violation into insufficient funds.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case "23514":
		return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
	}
	return err
}

// limitArg maps a non-positive limit to SQL NULL, which LIMIT treats as ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Wallet returns the user's wallet, empty when never credited
func (r *Repository) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w := domain.Wallet{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT balance, version, last_updated FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&w.Balance, &w.Version, &w.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{UserID: userID}, nil
		}
		return domain.Wallet{}, fmt.Errorf("getting wallet: %w", err)
	}
	return w, nil
}

// RecentTransactions returns the user's transactions, newest first
func (r *Repository) RecentTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, description, status, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Description, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

const progressColumns = `user_id, activity_id, levels_completed, total_levels, total_coins_earned,
	fully_completed, replay_unlocked, last_completed_at`

func scanProgress(row pgx.Row) (domain.ProgressRecord, error) {
	var (
		rec  domain.ProgressRecord
		last *time.Time
	)
	err := row.Scan(&rec.UserID, &rec.ActivityID, &rec.LevelsCompleted, &rec.TotalLevels,
		&rec.TotalCoinsEarned, &rec.FullyCompleted, &rec.ReplayUnlocked, &last)
	rec.LastCompletedAt = timeOrZero(last)
	return rec, err
}

// Progress returns one activity's progress record
func (r *Repository) Progress(ctx context.Context, userID, activityID string) (domain.ProgressRecord, error) {
	rec, err := scanProgress(r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE user_id = $1 AND activity_id = $2`,
		userID, activityID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProgressRecord{}, domain.ErrProgressNotFound
		}
		return domain.ProgressRecord{}, fmt.Errorf("getting progress: %w", err)
	}
	return rec, nil
}

const progressionColumns = `user_id, display_name, xp, level, streak, last_check_in, weekly_xp, rank, updated_at`

func scanProgression(row pgx.Row) (domain.UserProgression, error) {
	var (
		p       domain.UserProgression
		checkIn *time.Time
	)
	err := row.Scan(&p.UserID, &p.DisplayName, &p.XP, &p.Level, &p.Streak, &checkIn, &p.WeeklyXP, &p.Rank, &p.UpdatedAt)
	p.LastCheckIn = timeOrZero(checkIn)
	return p, err
}

// Progression returns the user's progression, level 1 when absent
func (r *Repository) Progression(ctx context.Context, userID string) (domain.UserProgression, error) {
	p, err := scanProgression(r.pool.QueryRow(ctx,
		`SELECT `+progressionColumns+` FROM user_progressions WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewUserProgression(userID), nil
		}
		return domain.UserProgression{}, fmt.Errorf("getting progression: %w", err)
	}
	return p, nil
}

// Progressions returns the progressions that exist for the given users
func (r *Repository) Progressions(ctx context.Context, userIDs []string) (map[string]domain.UserProgression, error) {
	out := make(map[string]domain.UserProgression, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+progressionColumns+` FROM user_progressions WHERE user_id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("listing progressions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProgression(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning progression: %w", err)
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}

// Badges returns the user's badges in the order they were earned
func (r *Repository) Badges(ctx context.Context, userID string) ([]domain.Badge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, badge_id, earned_at FROM badges WHERE user_id = $1 ORDER BY earned_at, badge_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing badges: %w", err)
	}
	defer rows.Close()

	var badges []domain.Badge
	for rows.Next() {
		var b domain.Badge
		if err := rows.Scan(&b.UserID, &b.BadgeID, &b.EarnedAt); err != nil {
			return nil, fmt.Errorf("scanning badge: %w", err)
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// Ties are broken by byte order of the user ID, matching the in-process sort.
func (r *Repository) queryTotals(ctx context.Context, query string, args ...any) ([]domain.XPTotal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ranking xp: %w", err)
	}
	defer rows.Close()

	var totals []domain.XPTotal
	for rows.Next() {
		var t domain.XPTotal
		if err := rows.Scan(&t.UserID, &t.XP); err != nil {
			return nil, fmt.Errorf("scanning xp total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// TopXP ranks users by cumulative XP
func (r *Repository) TopXP(ctx context.Context, limit int) ([]domain.XPTotal, error) {
	return r.queryTotals(ctx, `
		SELECT user_id, xp
		FROM user_progressions
		WHERE xp > 0
		ORDER BY xp DESC, user_id COLLATE "C" ASC
		LIMIT $1
	`, limitArg(limit))
}

// TopXPSince ranks users by XP earned at or after since
func (r *Repository) TopXPSince(ctx context.Context, since time.Time, limit int) ([]domain.XPTotal, error) {
	return r.queryTotals(ctx, `
		SELECT user_id, SUM(amount) AS total
		FROM xp_events
		WHERE created_at >= $1
		GROUP BY user_id
		ORDER BY total DESC, user_id COLLATE "C" ASC
		LIMIT $2
	`, since, limitArg(limit))
}

// XPSince sums one user's XP events at or after since
func (r *Repository) XPSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_events WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing xp: %w", err)
	}
	return total, nil
}

// SetDisplayName stores the name shown on leaderboards
func (r *Repository) SetDisplayName(ctx context.Context, userID, name string) error {
	query := `
		INSERT INTO user_progressions (user_id, display_name, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET display_name = $2, updated_at = $3
	`
	if _, err := r.pool.Exec(ctx, query, userID, name, time.Now()); err != nil {
		return fmt.Errorf("setting display name: %w", err)
	}
	return nil
}

// UpdateStandings writes weekly XP and rank for the given users and clears the
// rank of anyone who fell off the board.
func (r *Repository) UpdateStandings(ctx context.Context, standings []domain.Standing) error {
	ids := make([]string, len(standings))
	for i, st := range standings {
		ids[i] = st.UserID
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE user_progressions SET rank = 0 WHERE rank <> 0 AND NOT (user_id = ANY($1))`,
			ids,
		); err != nil {
			return fmt.Errorf("clearing ranks: %w", err)
		}
		if len(standings) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		query := `
			INSERT INTO user_progressions (user_id, weekly_xp, rank)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id)
			DO UPDATE SET weekly_xp = $2, rank = $3
		`
		for _, st := range standings {
			batch.Queue(query, st.UserID, st.WeeklyXP, st.Rank)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range standings {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("batch writing standings: %w", err)
			}
		}
		return nil
	})
}

// pgTx adapts a pgx transaction to store.Tx. Every read locks its rows.
type pgTx struct {
	tx    pgx.Tx
	hooks []func()
}

func (t *pgTx) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w := domain.Wallet{UserID: userID}
	err := t.tx.QueryRow(ctx,
		`SELECT balance, version, last_updated FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&w.Balance, &w.Version, &w.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{UserID: userID}, nil
		}
		return domain.Wallet{}, fmt.Errorf("locking wallet: %w", err)
	}
	return w, nil
}

// PutWallet writes w if its version still matches the stored row. A wallet
// read as absent (version 0) is inserted; losing that race is a conflict.
func (t *pgTx) PutWallet(ctx context.Context, w domain.Wallet) error {
	if w.Balance < 0 {
		return fmt.Errorf("wallet %s: %w", w.UserID, domain.ErrInsufficientFunds)
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if w.Version == 0 {
		tag, err = t.tx.Exec(ctx, `
			INSERT INTO wallets (user_id, balance, version, last_updated)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, w.UserID, w.Balance, w.LastUpdated)
	} else {
		tag, err = t.tx.Exec(ctx, `
			UPDATE wallets SET balance = $2, version = version + 1, last_updated = $3
			WHERE user_id = $1 AND version = $4
		`, w.UserID, w.Balance, w.LastUpdated, w.Version)
	}
	if err != nil {
		return fmt.Errorf("saving wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s version %d: %w", w.UserID, w.Version, domain.ErrConflict)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, tr domain.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tr.ID, tr.UserID, string(tr.Type), tr.Amount, tr.Description, string(tr.Status), tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

func (t *pgTx) Progress(ctx context.Context, userID, activityID string) (domain.ProgressRecord, bool, error) {
	rec, err := scanProgress(t.tx.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE user_id = $1 AND activity_id = $2 FOR UPDATE`,
		userID, activityID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProgressRecord{}, false, nil
		}
		return domain.ProgressRecord{}, false, fmt.Errorf("locking progress: %w", err)
	}
	return rec, true, nil
}

func (t *pgTx) ProgressFor(ctx context.Context, userID string, activityIDs []string) (map[string]domain.ProgressRecord, error) {
	out := make(map[string]domain.ProgressRecord, len(activityIDs))
	if len(activityIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE user_id = $1 AND activity_id = ANY($2) FOR UPDATE`,
		userID, activityIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("locking progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		out[rec.ActivityID] = rec
	}
	return out, rows.Err()
}

func (t *pgTx) PutProgress(ctx context.Context, rec domain.ProgressRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO progress_records (`+progressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, activity_id)
		DO UPDATE SET
			levels_completed = $3,
			total_levels = $4,
			total_coins_earned = $5,
			fully_completed = $6,
			replay_unlocked = $7,
			last_completed_at = $8
	`, rec.UserID, rec.ActivityID, rec.LevelsCompleted, rec.TotalLevels, rec.TotalCoinsEarned,
		rec.FullyCompleted, rec.ReplayUnlocked, nullTime(rec.LastCompletedAt))
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

func (t *pgTx) Progression(ctx context.Context, userID string) (domain.UserProgression, error) {
	p, err := scanProgression(t.tx.QueryRow(ctx,
		`SELECT `+progressionColumns+` FROM user_progressions WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewUserProgression(userID), nil
		}
		return domain.UserProgression{}, fmt.Errorf("locking progression: %w", err)
	}
	return p, nil
}

// PutProgression leaves display_name, weekly_xp and rank alone; those have
// their own writers.
func (t *pgTx) PutProgression(ctx context.Context, p domain.UserProgression) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_progressions (user_id, xp, level, streak, last_check_in, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id)
		DO UPDATE SET xp = $2, level = $3, streak = $4, last_check_in = $5, updated_at = $6
	`, p.UserID, p.XP, p.Level, p.Streak, nullTime(p.LastCheckIn), updated)
	if err != nil {
		return fmt.Errorf("saving progression: %w", err)
	}
	return nil
}

func (t *pgTx) AppendXPEvent(ctx context.Context, e domain.XPEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO xp_events (id, user_id, amount, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.UserID, e.Amount, e.Source, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording xp event: %w", err)
	}
	return nil
}

func (t *pgTx) Badge(ctx context.Context, userID, badgeID string) (domain.Badge, bool, error) {
	b := domain.Badge{UserID: userID, BadgeID: badgeID}
	err := t.tx.QueryRow(ctx,
		`SELECT earned_at FROM badges WHERE user_id = $1 AND badge_id = $2 FOR UPDATE`,
		userID, badgeID,
	).Scan(&b.EarnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Badge{}, false, nil
		}
		return domain.Badge{}, false, fmt.Errorf("getting badge: %w", err)
	}
	return b, true, nil
}

func (t *pgTx) InsertBadge(ctx context.Context, b domain.Badge) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO badges (user_id, badge_id, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, b.UserID, b.BadgeID, b.EarnedAt)
	if err != nil {
		return false, fmt.Errorf("inserting badge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
