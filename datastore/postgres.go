package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/queue"
)

// Postgres is a Store backed by a PostgreSQL table.
type Postgres struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

func NewPostgres(db *sql.DB, table string, logger *zap.Logger) (Store, error) {
	if db == nil {
		return Postgres{}, fmt.Errorf("%s: %w", "NewPostgres", ErrNilDB)
	}

	return Postgres{
		db:     db,
		table:  table,
		logger: logger,
	}, nil
}

func (p Postgres) Close() error {
	return p.db.Close()
}

func (p Postgres) Enqueue(ctx context.Context, url string, action queue.Action, engines queue.EngineSet) (int64, error) {
	q := fmt.Sprintf(
		`INSERT INTO %s (url, action, engines, status, attempts, created_at) VALUES ($1, $2, $3, $4, 0, $5) RETURNING id`,
		p.table,
	)

	var id int64
	if err := p.db.QueryRowContext(
		ctx, q, url, action, engines, queue.StatusPending, time.Now().Format(timeLayout),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres.Enqueue: %w", err)
	}

	return id, nil
}

func (p Postgres) DequeueDue(ctx context.Context, limit, retryLimit int) ([]queue.Item, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = $1 AND attempts < $2 ORDER BY created_at ASC LIMIT $3`,
		itemColumns, p.table,
	)

	rows, err := p.db.QueryContext(ctx, q, queue.StatusPending, retryLimit, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.DequeueDue: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		p.logger.Error("error while scan", zap.Error(err))
		return nil, err
	}

	return items, nil
}

func (p Postgres) IncrementAttempt(ctx context.Context, id int64) error {
	q := fmt.Sprintf(`UPDATE %s SET attempts = attempts + 1 WHERE id = $1`, p.table)

	if _, err := p.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("postgres.IncrementAttempt: %w", err)
	}

	return nil
}

func (p Postgres) RecordOutcome(ctx context.Context, o Outcome) error {
	now := time.Now().Format(timeLayout)
	response := truncateResponse(o.Response)

	if o.ItemID > 0 {
		q := fmt.Sprintf(
			`UPDATE %s SET engine = $1, http_code = $2, response = $3, status = $4, processed_at = $5 WHERE id = $6`,
			p.table,
		)

		if _, err := p.db.ExecContext(ctx, q, o.Engine, o.HTTPCode, response, o.Status, now, o.ItemID); err != nil {
			return fmt.Errorf("postgres.RecordOutcome: %w", err)
		}

		return nil
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (url, action, engines, engine, status, http_code, response, attempts, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`,
		p.table,
	)

	if _, err := p.db.ExecContext(
		ctx, q, o.URL, o.Action, queue.EngineSet{o.Engine}, o.Engine, o.Status, o.HTTPCode, response, now, now,
	); err != nil {
		return fmt.Errorf("postgres.RecordOutcome: %w", err)
	}

	return nil
}

func (p Postgres) SweepExpired(ctx context.Context, retryLimit int) (int64, error) {
	q := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE status = $2 AND attempts >= $3`, p.table)

	res, err := p.db.ExecContext(ctx, q, queue.StatusFailed, queue.StatusPending, retryLimit)
	if err != nil {
		return 0, fmt.Errorf("postgres.SweepExpired: %w", err)
	}

	swept, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres.SweepExpired: %w", err)
	}

	return swept, nil
}

func (p Postgres) Query(ctx context.Context, f Filter) ([]queue.Item, int, error) {
	where := "1=1"
	args := make([]interface{}, 0, 4)

	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Engine != "" {
		args = append(args, f.Engine)
		where += fmt.Sprintf(" AND engine = $%d", len(args))
	}

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, p.table, where)
	if err := p.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres.Query: %w", err)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}

	args = append(args, perPage)
	limitPos := len(args)
	args = append(args, f.Offset)

	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		itemColumns, p.table, where, orderClause(f), limitPos, limitPos+1,
	)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres.Query: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		p.logger.Error("error while scan", zap.Error(err))
		return nil, 0, err
	}

	return items, total, nil
}

func (p Postgres) ClearAll(ctx context.Context) error {
	q := fmt.Sprintf(`TRUNCATE TABLE %s`, p.table)

	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("postgres.ClearAll: %w", err)
	}

	p.logger.Info("queue cleared", zap.String("table", p.table))

	return nil
}

func (p Postgres) ExportCSV(ctx context.Context) ([]byte, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`, itemColumns, p.table)

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres.ExportCSV: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	return buildCSV(items)
}
