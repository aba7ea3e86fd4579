// Package indexrelay delivers URL-change notifications to search engines
// through a durable retry queue: triggers enqueue, a scheduled dispatcher
// pulls due items and hands them to the delivery backends, outcomes are
// written back.
package indexrelay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/queue"
	"github.com/patrice-hue/indexrelay/settings"
	"github.com/patrice-hue/indexrelay/vault"
)

const (
	// DefaultFetchLimit caps how many due items one cycle pulls.
	DefaultFetchLimit = 200

	// DefaultRetryLimit is how many cycles may touch an item before it is
	// failed for good.
	DefaultRetryLimit = 3
)

// Dispatcher runs one delivery cycle over the queue:
// fetch -> mark attempts -> route -> deliver -> persist -> sweep.
type Dispatcher struct {
	Store    datastore.Store
	Bulk     engine.BulkSubmitter
	Indexing engine.IndexingSubmitter
	Settings settings.Source
	Vault    *vault.Vault

	FetchLimit int
	RetryLimit int

	Logger *zap.Logger
}

// ProcessCycle executes a single cycle. Items whose backend is skipped
// (missing key or credentials) stay pending; the closing sweep fails anything
// that has exhausted its attempts, whether or not it was fetched this cycle.
func (d *Dispatcher) ProcessCycle(ctx context.Context) error {
	fetchLimit := d.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	retryLimit := d.RetryLimit
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}

	cfg, err := d.Settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load settings: %w", err)
	}

	items, err := d.Store.DequeueDue(ctx, fetchLimit, retryLimit)
	if err != nil {
		return fmt.Errorf("dispatcher: dequeue: %w", err)
	}

	if len(items) > 0 {
		// The attempt is consumed before any delivery so a crash mid-cycle
		// still counts against the retry budget.
		for i := range items {
			if err := d.Store.IncrementAttempt(ctx, items[i].ID); err != nil {
				d.Logger.Error("failed to increment attempt",
					zap.Int64("id", items[i].ID), zap.Error(err))
			}
		}

		bulkItems := make([]*queue.Item, 0, len(items))
		indexingGroups := make(map[string][]*queue.Item)

		for i := range items {
			it := &items[i]

			// The bulk endpoint has no deletion semantics; deleted items are
			// never routed there.
			if it.Engines.Has(queue.EngineBing) && it.Action != queue.ActionDeleted {
				bulkItems = append(bulkItems, it)
			}

			if it.Engines.Has(queue.EngineGoogle) {
				t := notifyType(it.Action)
				indexingGroups[t] = append(indexingGroups[t], it)
			}
		}

		if len(bulkItems) > 0 && cfg.APIKey != "" {
			urls := itemURLs(bulkItems)
			results := d.Bulk.Submit(ctx, urls, cfg.APIKey, cfg.EffectiveBatchSize())
			d.recordBatchResults(ctx, results, bulkItems)
		}

		if len(indexingGroups) > 0 {
			account, err := cfg.ServiceAccount(d.Vault)
			switch {
			case err == nil:
				for t, group := range indexingGroups {
					results := d.Indexing.Submit(ctx, itemURLs(group), account, t)
					d.recordURLResults(ctx, results, group)
				}
			case errors.Is(err, settings.ErrNoCredentials):
				// Backend not configured; items stay pending for the sweep.
			default:
				d.Logger.Warn("google credentials unusable", zap.Error(err))
			}
		}
	}

	swept, err := d.Store.SweepExpired(ctx, retryLimit)
	if err != nil {
		return fmt.Errorf("dispatcher: sweep: %w", err)
	}
	if swept > 0 {
		d.Logger.Info("swept exhausted items", zap.Int64("count", swept))
	}

	return nil
}

// recordBatchResults maps chunk outcomes back to items. Matching is by URL
// within the cycle's working set; each result occurrence consumes the next
// unmatched item, so duplicate URLs are all resolved.
func (d *Dispatcher) recordBatchResults(ctx context.Context, results []engine.BatchResult, items []*queue.Item) {
	matched := make([]bool, len(items))

	for _, res := range results {
		status := queue.StatusDone
		if !res.Success {
			status = queue.StatusFailed
		}

		for _, u := range res.URLs {
			it := takeByURL(items, matched, u)
			if it == nil {
				continue
			}

			d.record(ctx, it, queue.EngineBing, res.HTTPCode, res.Response, status)
		}
	}
}

func (d *Dispatcher) recordURLResults(ctx context.Context, results []engine.URLResult, items []*queue.Item) {
	matched := make([]bool, len(items))

	for _, res := range results {
		it := takeByURL(items, matched, res.URL)
		if it == nil {
			continue
		}

		status := queue.StatusDone
		if !res.Success {
			status = queue.StatusFailed
		}

		d.record(ctx, it, queue.EngineGoogle, res.HTTPCode, res.Response, status)
	}
}

func (d *Dispatcher) record(ctx context.Context, it *queue.Item, engineName string, httpCode int, response string, status queue.Status) {
	err := d.Store.RecordOutcome(ctx, datastore.Outcome{
		ItemID:   it.ID,
		URL:      it.URL,
		Action:   it.Action,
		Engine:   engineName,
		HTTPCode: httpCode,
		Response: response,
		Status:   status,
	})
	if err != nil {
		d.Logger.Error("failed to record outcome",
			zap.Int64("id", it.ID), zap.String("engine", engineName), zap.Error(err))
		return
	}

	d.Logger.Info("submission recorded",
		zap.Int64("id", it.ID),
		zap.String("url", it.URL),
		zap.String("engine", engineName),
		zap.Int("httpCode", httpCode),
		zap.String("status", string(status)))
}

func takeByURL(items []*queue.Item, matched []bool, url string) *queue.Item {
	for i, it := range items {
		if !matched[i] && it.URL == url {
			matched[i] = true
			return it
		}
	}

	return nil
}

func itemURLs(items []*queue.Item) []string {
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.URL
	}

	return urls
}

func notifyType(a queue.Action) string {
	if a == queue.ActionDeleted {
		return engine.NotifyURLDeleted
	}

	return engine.NotifyURLUpdated
}
