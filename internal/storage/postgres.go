package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconciler_orders (
	id               TEXT PRIMARY KEY,
	client_order_id  TEXT NOT NULL DEFAULT '',
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL DEFAULT '',
	quantity         NUMERIC NOT NULL,
	price            NUMERIC NOT NULL,
	filled_quantity  NUMERIC NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_checked_at  TIMESTAMPTZ,
	resolved_at      TIMESTAMPTZ,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS reconciler_orders_status_idx ON reconciler_orders (status);
CREATE TABLE IF NOT EXISTS reconciler_sweeps (
	sweep_id          TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL DEFAULT '',
	params_version    BIGINT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL,
	candidates        INTEGER NOT NULL,
	cancelled         INTEGER NOT NULL,
	already_resolved  INTEGER NOT NULL,
	transient_retry   INTEGER NOT NULL,
	expired           INTEGER NOT NULL,
	cancel_failed     INTEGER NOT NULL,
	deferred          INTEGER NOT NULL,
	partial           BOOLEAN NOT NULL,
	remaining_active  INTEGER NOT NULL,
	report            JSONB NOT NULL
);
`

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	DSN    string
	Logger *zap.Logger
}

// NewPostgresStorage connects to PostgreSQL and creates the journal tables.
func NewPostgresStorage(ctx context.Context, cfg *PostgresConfig) (*PostgresStorage, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}

	err = p.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info("postgres-storage-connected")

	return p, nil
}

// Ping checks that the database is reachable.
func (p *PostgresStorage) Ping(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate creates the journal tables when missing.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// StoreOrder upserts an order record.
func (p *PostgresStorage) StoreOrder(ctx context.Context, rec types.OrderRecord) error {
	query := `
		INSERT INTO reconciler_orders (
			id, client_order_id, symbol, side, quantity, price, filled_quantity,
			status, created_at, last_checked_at, resolved_at, retry_count, last_error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			filled_quantity = EXCLUDED.filled_quantity,
			status          = EXCLUDED.status,
			last_checked_at = EXCLUDED.last_checked_at,
			resolved_at     = EXCLUDED.resolved_at,
			retry_count     = EXCLUDED.retry_count,
			last_error      = EXCLUDED.last_error,
			updated_at      = now()
	`

	_, err := p.db.ExecContext(ctx, query,
		rec.ID,
		rec.ClientOrderID,
		rec.Symbol,
		string(rec.Side),
		rec.Quantity,
		rec.Price,
		rec.FilledQuantity,
		string(rec.Status),
		rec.CreatedAt,
		nullTime(rec.LastCheckedAt),
		nullTime(rec.ResolvedAt),
		rec.RetryCount,
		rec.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", rec.ID, err)
	}

	p.logger.Debug("order-stored",
		zap.String("order-id", rec.ID),
		zap.String("status", string(rec.Status)))

	return nil
}

// DeleteOrder removes an order record.
func (p *PostgresStorage) DeleteOrder(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM reconciler_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// StoreSweep inserts a sweep report with its per-outcome counts.
func (p *PostgresStorage) StoreSweep(ctx context.Context, report *reconcile.SweepReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	counts := report.Counts()
	query := `
		INSERT INTO reconciler_sweeps (
			sweep_id, symbol, params_version, started_at, finished_at, candidates,
			cancelled, already_resolved, transient_retry, expired, cancel_failed,
			deferred, partial, remaining_active, report
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (sweep_id) DO NOTHING
	`

	_, err = p.db.ExecContext(ctx, query,
		report.SweepID,
		report.Symbol,
		int64(report.ParamsVersion),
		report.StartedAt,
		report.FinishedAt,
		counts.Candidates,
		counts.Cancelled,
		counts.AlreadyResolved,
		counts.TransientRetry,
		counts.Expired,
		counts.CancelFailed,
		counts.Deferred,
		report.Partial,
		report.RemainingActive,
		body,
	)
	if err != nil {
		return fmt.Errorf("insert sweep %s: %w", report.SweepID, err)
	}

	return nil
}

// LoadActive returns every non-terminal order, oldest first.
func (p *PostgresStorage) LoadActive(ctx context.Context) (records []types.OrderRecord, err error) {
	query := `
		SELECT id, client_order_id, symbol, side, quantity, price, filled_quantity,
			status, created_at, last_checked_at, resolved_at, retry_count, last_error
		FROM reconciler_orders
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at, id
	`

	rows, err := p.db.QueryContext(ctx, query,
		string(types.StatusFilled), string(types.StatusCancelled), string(types.StatusExpired))
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row         orderRow
			side        string
			status      string
			lastChecked sql.NullTime
			resolved    sql.NullTime
		)
		err = rows.Scan(
			&row.ID, &row.ClientOrderID, &row.Symbol, &side,
			&row.Quantity, &row.Price, &row.FilledQuantity,
			&status, &row.CreatedAt, &lastChecked, &resolved,
			&row.RetryCount, &row.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		row.Side = types.Side(side)
		row.Status = types.OrderStatus(status)
		row.LastCheckedAt = lastChecked.Time
		row.ResolvedAt = resolved.Time
		records = append(records, row.record())
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return records, nil
}

// RecentSweeps returns up to limit sweep reports, newest first.
func (p *PostgresStorage) RecentSweeps(ctx context.Context, limit int) (reports []*reconcile.SweepReport, err error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT report FROM reconciler_sweeps ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		err = rows.Scan(&body)
		if err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		var report reconcile.SweepReport
		err = json.Unmarshal(body, &report)
		if err != nil {
			return nil, fmt.Errorf("decode sweep: %w", err)
		}
		reports = append(reports, &report)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate sweeps: %w", err)
	}

	return reports, nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
