package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/queue"
)

// MySQL is a Store backed by a MySQL table. Its queries use `?` placeholders
// only, so the SQLite store embeds it and reuses everything but ClearAll.
type MySQL struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

func NewMySQL(db *sql.DB, table string, logger *zap.Logger) (Store, error) {
	if db == nil {
		return MySQL{}, fmt.Errorf("%s: %w", "NewMySQL", ErrNilDB)
	}

	return MySQL{
		db:     db,
		table:  table,
		logger: logger,
	}, nil
}

func (m MySQL) Close() error {
	return m.db.Close()
}

func (m MySQL) Enqueue(ctx context.Context, url string, action queue.Action, engines queue.EngineSet) (int64, error) {
	q := fmt.Sprintf(
		`INSERT INTO %s (url, action, engines, status, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		m.table,
	)

	res, err := m.db.ExecContext(ctx, q, url, action, engines, queue.StatusPending, time.Now().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("mysql.Enqueue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mysql.Enqueue: %w", err)
	}

	return id, nil
}

func (m MySQL) DequeueDue(ctx context.Context, limit, retryLimit int) ([]queue.Item, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = ? AND attempts < ? ORDER BY created_at ASC LIMIT ?`,
		itemColumns, m.table,
	)

	rows, err := m.db.QueryContext(ctx, q, queue.StatusPending, retryLimit, limit)
	if err != nil {
		return nil, fmt.Errorf("mysql.DequeueDue: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		m.logger.Error("error while scan", zap.Error(err))
		return nil, err
	}

	return items, nil
}

func (m MySQL) IncrementAttempt(ctx context.Context, id int64) error {
	q := fmt.Sprintf(`UPDATE %s SET attempts = attempts + 1 WHERE id = ?`, m.table)

	if _, err := m.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("mysql.IncrementAttempt: %w", err)
	}

	return nil
}

func (m MySQL) RecordOutcome(ctx context.Context, o Outcome) error {
	now := time.Now().Format(timeLayout)
	response := truncateResponse(o.Response)

	if o.ItemID > 0 {
		q := fmt.Sprintf(
			`UPDATE %s SET engine = ?, http_code = ?, response = ?, status = ?, processed_at = ? WHERE id = ?`,
			m.table,
		)

		if _, err := m.db.ExecContext(ctx, q, o.Engine, o.HTTPCode, response, o.Status, now, o.ItemID); err != nil {
			return fmt.Errorf("mysql.RecordOutcome: %w", err)
		}

		return nil
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (url, action, engines, engine, status, http_code, response, attempts, created_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		m.table,
	)

	if _, err := m.db.ExecContext(
		ctx, q, o.URL, o.Action, queue.EngineSet{o.Engine}, o.Engine, o.Status, o.HTTPCode, response, now, now,
	); err != nil {
		return fmt.Errorf("mysql.RecordOutcome: %w", err)
	}

	return nil
}

func (m MySQL) SweepExpired(ctx context.Context, retryLimit int) (int64, error) {
	q := fmt.Sprintf(`UPDATE %s SET status = ? WHERE status = ? AND attempts >= ?`, m.table)

	res, err := m.db.ExecContext(ctx, q, queue.StatusFailed, queue.StatusPending, retryLimit)
	if err != nil {
		return 0, fmt.Errorf("mysql.SweepExpired: %w", err)
	}

	swept, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql.SweepExpired: %w", err)
	}

	return swept, nil
}

func (m MySQL) Query(ctx context.Context, f Filter) ([]queue.Item, int, error) {
	where := "1=1"
	args := make([]interface{}, 0, 4)

	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Engine != "" {
		where += " AND engine = ?"
		args = append(args, f.Engine)
	}

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, m.table, where)
	if err := m.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("mysql.Query: %w", err)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}

	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ? OFFSET ?`,
		itemColumns, m.table, where, orderClause(f),
	)

	rows, err := m.db.QueryContext(ctx, q, append(args, perPage, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("mysql.Query: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		m.logger.Error("error while scan", zap.Error(err))
		return nil, 0, err
	}

	return items, total, nil
}

func (m MySQL) ClearAll(ctx context.Context) error {
	q := fmt.Sprintf(`TRUNCATE TABLE %s`, m.table)

	if _, err := m.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mysql.ClearAll: %w", err)
	}

	m.logger.Info("queue cleared", zap.String("table", m.table))

	return nil
}

func (m MySQL) ExportCSV(ctx context.Context) ([]byte, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`, itemColumns, m.table)

	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("mysql.ExportCSV: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	return buildCSV(items)
}
