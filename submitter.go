package indexrelay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/queue"
	"github.com/patrice-hue/indexrelay/settings"
	"github.com/patrice-hue/indexrelay/vault"
)

// ErrNoValidURLs means the input contained nothing submittable after
// validation and deduplication.
var ErrNoValidURLs = errors.New("no valid urls provided")

// SubmitResult is one per-URL, per-engine outcome of an immediate submission.
type SubmitResult struct {
	URL       string       `json:"url"`
	Engine    string       `json:"engine"`
	HTTPCode  int          `json:"http_code"`
	Status    queue.Status `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// Submitter is the synchronous submission surface: it calls the delivery
// backends directly, bypassing the queue, and records outcomes as fresh
// historical rows. It shares the backend clients with the Dispatcher but
// none of the queue's retry bookkeeping.
type Submitter struct {
	Store    datastore.Store
	Bulk     engine.BulkSubmitter
	Indexing engine.IndexingSubmitter
	Settings settings.Source
	Vault    *vault.Vault

	Logger *zap.Logger
}

// ParseURLList splits raw input on newlines and commas, trims, drops
// anything that is not an absolute http(s) URL and deduplicates while
// preserving order.
func ParseURLList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})

	seen := make(map[string]bool, len(fields))
	urls := make([]string, 0, len(fields))

	for _, f := range fields {
		u := strings.TrimSpace(f)
		if u == "" || seen[u] || !validURL(u) {
			continue
		}

		seen[u] = true
		urls = append(urls, u)
	}

	return urls
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SubmitNow submits urls to the selected engines synchronously and returns
// the per-URL, per-engine outcomes. Input is validated and deduplicated
// first. Engines without configuration are skipped.
func (s *Submitter) SubmitNow(ctx context.Context, urls []string, engines []string, action queue.Action) ([]SubmitResult, error) {
	clean := ParseURLList(strings.Join(urls, "\n"))
	if len(clean) == 0 {
		return nil, ErrNoValidURLs
	}

	cfg, err := s.Settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("submitter: load settings: %w", err)
	}

	selected := queue.EngineSet(engines)
	results := make([]SubmitResult, 0, len(clean)*2)

	if selected.Has(queue.EngineBing) && cfg.APIKey != "" && action != queue.ActionDeleted {
		for _, br := range s.Bulk.Submit(ctx, clean, cfg.APIKey, cfg.EffectiveBatchSize()) {
			status := queue.StatusDone
			if !br.Success {
				status = queue.StatusFailed
			}

			for _, u := range br.URLs {
				s.logOutcome(ctx, u, action, queue.EngineBing, br.HTTPCode, br.Response, status)
				results = append(results, SubmitResult{
					URL:       u,
					Engine:    queue.EngineBing,
					HTTPCode:  br.HTTPCode,
					Status:    status,
					Timestamp: time.Now(),
				})
			}
		}
	}

	if selected.Has(queue.EngineGoogle) {
		account, err := cfg.ServiceAccount(s.Vault)
		if err != nil {
			if !errors.Is(err, settings.ErrNoCredentials) {
				s.Logger.Warn("google credentials unusable", zap.Error(err))
			}
		} else {
			for _, ur := range s.Indexing.Submit(ctx, clean, account, notifyType(action)) {
				status := queue.StatusDone
				if !ur.Success {
					status = queue.StatusFailed
				}

				s.logOutcome(ctx, ur.URL, action, queue.EngineGoogle, ur.HTTPCode, ur.Response, status)
				results = append(results, SubmitResult{
					URL:       ur.URL,
					Engine:    queue.EngineGoogle,
					HTTPCode:  ur.HTTPCode,
					Status:    status,
					Timestamp: time.Now(),
				})
			}
		}
	}

	return results, nil
}

// BulkEnqueue queues a list of canonical URLs for later dispatch, skipping
// excluded ones, and returns how many were queued.
func (s *Submitter) BulkEnqueue(ctx context.Context, urls []string, engines queue.EngineSet) (int, error) {
	cfg, err := s.Settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("submitter: load settings: %w", err)
	}

	queued := 0
	for _, u := range urls {
		if u == "" || cfg.IsExcluded(u) {
			continue
		}

		if _, err := s.Store.Enqueue(ctx, u, queue.ActionUpdated, engines); err != nil {
			return queued, fmt.Errorf("submitter: enqueue %s: %w", u, err)
		}
		queued++
	}

	return queued, nil
}

// logOutcome records an immediate submission as a fresh historical row.
func (s *Submitter) logOutcome(ctx context.Context, u string, action queue.Action, engineName string, httpCode int, response string, status queue.Status) {
	err := s.Store.RecordOutcome(ctx, datastore.Outcome{
		ItemID:   0,
		URL:      u,
		Action:   action,
		Engine:   engineName,
		HTTPCode: httpCode,
		Response: response,
		Status:   status,
	})
	if err != nil {
		s.Logger.Error("failed to record manual submission",
			zap.String("url", u), zap.String("engine", engineName), zap.Error(err))
	}
}
