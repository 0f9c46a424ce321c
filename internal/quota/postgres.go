package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const stateColumns = `user_id, daily_limit_seconds, used_today_seconds, last_usage_date,
	reserve_seconds, boost_seconds, boost_expires_at,
	text_count_today, last_message_date, version, updated_at`

const rechargeColumns = `id, user_id, type, quantity, status, activated_at, expires_at, created_at`

// PostgresStore implements Store on the voice_quotas and recharges tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed quota store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetState(ctx context.Context, userID uuid.UUID) (*State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM voice_quotas WHERE user_id = $1`, userID)
	return scanState(row)
}

func (s *PostgresStore) UpdateState(ctx context.Context, state *State, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, updateStateSQL, updateStateArgs(state, expectedVersion)...)
	if err != nil {
		return fmt.Errorf("updating quota state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, state.UserID)
	}
	return nil
}

const updateStateSQL = `
	UPDATE voice_quotas
	SET used_today_seconds = $2,
	    last_usage_date = $3,
	    reserve_seconds = $4,
	    boost_seconds = $5,
	    boost_expires_at = $6,
	    text_count_today = $7,
	    last_message_date = $8,
	    version = version + 1,
	    updated_at = NOW()
	WHERE user_id = $1 AND version = $9`

func updateStateArgs(state *State, expectedVersion int64) []any {
	return []any{
		state.UserID,
		state.UsedTodaySeconds,
		state.LastUsageDate,
		state.ReserveSeconds,
		state.BoostSeconds,
		state.BoostExpiresAt,
		state.TextCountToday,
		state.LastMessageDate,
		expectedVersion,
	}
}

// classifyMiss distinguishes a lost version race from a vanished row.
func (s *PostgresStore) classifyMiss(ctx context.Context, userID uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM voice_quotas WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking quota row existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *PostgresStore) ListActiveRecharges(ctx context.Context, userID uuid.UUID, types ...RechargeType) ([]Recharge, error) {
	query := `SELECT ` + rechargeColumns + ` FROM recharges WHERE user_id = $1 AND status = 'active'`
	args := []any{userID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active recharges: %w", err)
	}
	defer rows.Close()
	return scanRecharges(rows)
}

func (s *PostgresStore) ListPendingRecharges(ctx context.Context, userID uuid.UUID) ([]Recharge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rechargeColumns+` FROM recharges
		 WHERE user_id = $1 AND status = 'pending'
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing pending recharges: %w", err)
	}
	defer rows.Close()
	return scanRecharges(rows)
}

func (s *PostgresStore) LatestPendingRecharge(ctx context.Context, userID uuid.UUID, typ RechargeType) (*Recharge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rechargeColumns+` FROM recharges
		 WHERE user_id = $1 AND type = $2 AND status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, string(typ))

	rec, err := scanRecharge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRechargeNotFound
		}
		return nil, fmt.Errorf("querying pending recharge: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CommitRecharge(ctx context.Context, state *State, expectedVersion int64, transitions []RechargeTransition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning recharge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateStateSQL, updateStateArgs(state, expectedVersion)...)
	if err != nil {
		return fmt.Errorf("updating quota state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, state.UserID)
	}

	for _, tr := range transitions {
		tag, err := tx.Exec(ctx,
			`UPDATE recharges
			 SET status = $2,
			     activated_at = COALESCE($3, activated_at),
			     expires_at = COALESCE($4, expires_at)
			 WHERE id = $1 AND status = $5`,
			tr.ID, string(tr.Status), tr.ActivatedAt, tr.ExpiresAt, string(tr.FromStatus))
		if err != nil {
			return fmt.Errorf("transitioning recharge %s: %w", tr.ID, err)
		}
		if tag.RowsAffected() == 0 && tr.Required {
			return ErrAlreadyApplied
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing recharge tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recharges
		 SET status = 'expired'
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring stale recharges: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*State, error) {
	var st State
	err := row.Scan(
		&st.UserID, &st.DailyLimitSeconds, &st.UsedTodaySeconds, &st.LastUsageDate,
		&st.ReserveSeconds, &st.BoostSeconds, &st.BoostExpiresAt,
		&st.TextCountToday, &st.LastMessageDate, &st.Version, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning quota state: %w", err)
	}
	return &st, nil
}

func scanRecharge(row rowScanner) (*Recharge, error) {
	var rec Recharge
	var typ, status string
	err := row.Scan(
		&rec.ID, &rec.UserID, &typ, &rec.Quantity, &status,
		&rec.ActivatedAt, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = RechargeType(typ)
	rec.Status = RechargeStatus(status)
	return &rec, nil
}

func scanRecharges(rows pgx.Rows) ([]Recharge, error) {
	var out []Recharge
	for rows.Next() {
		rec, err := scanRecharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recharge: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recharges: %w", err)
	}
	return out, nil
}
