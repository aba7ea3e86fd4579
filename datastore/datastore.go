package datastore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/patrice-hue/indexrelay/queue"
)

// ErrNilDB is returned by constructors when no database handle is given.
var ErrNilDB = errors.New("nil DB")

// maxResponseLen bounds the persisted response body, in runes.
const maxResponseLen = 500

// timeLayout is the format timestamps are written with. All drivers accept it
// as a literal and it sorts lexicographically.
const timeLayout = "2006-01-02 15:04:05"

// itemColumns is the column list every SELECT uses, in scan order.
const itemColumns = "id, url, action, engines, status, engine, http_code, response, attempts, created_at, processed_at"

// Outcome is the result of one delivery attempt, written back to the queue.
// An ItemID of zero inserts a fresh historical row instead of updating an
// existing one; the immediate-submit path uses this since it never enqueues.
type Outcome struct {
	ItemID   int64
	URL      string
	Action   queue.Action
	Engine   string
	HTTPCode int
	Response string
	Status   queue.Status
}

// Filter narrows and pages the read path. Zero values mean "no filter".
type Filter struct {
	Status  queue.Status
	Engine  string
	PerPage int
	Offset  int
	OrderBy string
	Order   string
}

// Store is the durable submission queue.
type Store interface {
	// Enqueue inserts a pending row with zero attempts and returns its id.
	Enqueue(ctx context.Context, url string, action queue.Action, engines queue.EngineSet) (int64, error)

	// DequeueDue returns pending items with fewer than retryLimit attempts,
	// oldest first, capped at limit.
	DequeueDue(ctx context.Context, limit, retryLimit int) ([]queue.Item, error)

	// IncrementAttempt bumps the attempt counter of one item. It is called
	// once per item per cycle, before any delivery is tried.
	IncrementAttempt(ctx context.Context, id int64) error

	// RecordOutcome persists the result of a delivery attempt.
	RecordOutcome(ctx context.Context, o Outcome) error

	// SweepExpired fails every pending item that has exhausted its attempts
	// and returns how many rows it touched.
	SweepExpired(ctx context.Context, retryLimit int) (int64, error)

	// Query returns a page of items plus the unpaged total.
	Query(ctx context.Context, f Filter) ([]queue.Item, int, error)

	// ClearAll irreversibly empties the queue.
	ClearAll(ctx context.Context) error

	// ExportCSV dumps the whole queue, newest first.
	ExportCSV(ctx context.Context) ([]byte, error)

	io.Closer
}

// orderColumns is the allow-list for Filter.OrderBy.
var orderColumns = map[string]bool{
	"id":           true,
	"url":          true,
	"status":       true,
	"engine":       true,
	"http_code":    true,
	"created_at":   true,
	"processed_at": true,
}

func orderClause(f Filter) string {
	col := f.OrderBy
	if !orderColumns[col] {
		col = "created_at"
	}

	dir := "DESC"
	if f.Order == "ASC" || f.Order == "asc" {
		dir = "ASC"
	}

	return col + " " + dir
}

func truncateResponse(s string) string {
	r := []rune(s)
	if len(r) <= maxResponseLen {
		return s
	}

	return string(r[:maxResponseLen])
}

// parseTime accepts the layouts the supported drivers hand back for
// timestamp columns scanned as strings.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

func scanItems(rows *sql.Rows) ([]queue.Item, error) {
	items := make([]queue.Item, 0)

	for rows.Next() {
		var (
			it          queue.Item
			engine      sql.NullString
			httpCode    sql.NullInt64
			response    sql.NullString
			createdAt   sql.NullString
			processedAt sql.NullString
		)

		if err := rows.Scan(
			&it.ID, &it.URL, &it.Action, &it.Engines, &it.Status,
			&engine, &httpCode, &response, &it.Attempts,
			&createdAt, &processedAt,
		); err != nil {
			return nil, err
		}

		it.Engine = engine.String
		it.HTTPCode = int(httpCode.Int64)
		it.Response = response.String
		if createdAt.Valid {
			it.CreatedAt = parseTime(createdAt.String)
		}
		if processedAt.Valid {
			it.ProcessedAt = parseTime(processedAt.String)
		}

		items = append(items, it)
	}

	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// buildCSV renders items with the fixed ten-column export schema.
func buildCSV(items []queue.Item) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "URL", "Action", "Engine", "Status", "HTTP Code", "Response", "Attempts", "Created", "Processed"}); err != nil {
		return nil, err
	}

	for _, it := range items {
		created := ""
		if !it.CreatedAt.IsZero() {
			created = it.CreatedAt.Format(timeLayout)
		}

		processed := ""
		if !it.ProcessedAt.IsZero() {
			processed = it.ProcessedAt.Format(timeLayout)
		}

		if err := w.Write([]string{
			strconv.FormatInt(it.ID, 10),
			it.URL,
			string(it.Action),
			it.Engine,
			string(it.Status),
			strconv.Itoa(it.HTTPCode),
			it.Response,
			strconv.Itoa(it.Attempts),
			created,
			processed,
		}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
