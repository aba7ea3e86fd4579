package indexrelay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/queue"
	"github.com/patrice-hue/indexrelay/settings"
)

// DefaultEnqueueDelay keeps the enqueue off the content-change request path.
const DefaultEnqueueDelay = 5 * time.Second

// ContentEvent describes a content lifecycle change reported by the CMS.
type ContentEvent struct {
	URL         string
	ContentType string
	Published   bool
}

// ContentChangeObserver maps content lifecycle events to queue submissions,
// applying the auto-submit toggle, the content-type filter and the exclusion
// list. Register it with the content-management collaborator.
type ContentChangeObserver struct {
	Store    datastore.Store
	Settings settings.Source

	// Delay defers the enqueue after an event; zero means
	// DefaultEnqueueDelay.
	Delay time.Duration

	// Defer schedules fn after d. Nil uses time.AfterFunc.
	Defer func(d time.Duration, fn func())

	Logger *zap.Logger
}

// OnPublished handles a created or updated item that is publicly visible.
// Both engines are notified.
func (o *ContentChangeObserver) OnPublished(ctx context.Context, ev ContentEvent) {
	if !o.accepts(ctx, ev) {
		return
	}

	o.enqueueLater(ev.URL, queue.ActionUpdated, queue.EngineSet{queue.EngineBing, queue.EngineGoogle})
}

// OnDeleted handles removal of a previously published item. Only the
// indexing backend supports deletions.
func (o *ContentChangeObserver) OnDeleted(ctx context.Context, ev ContentEvent) {
	if !o.accepts(ctx, ev) {
		return
	}

	o.enqueueLater(ev.URL, queue.ActionDeleted, queue.EngineSet{queue.EngineGoogle})
}

func (o *ContentChangeObserver) accepts(ctx context.Context, ev ContentEvent) bool {
	cfg, err := o.Settings.Load(ctx)
	if err != nil {
		o.Logger.Error("failed to load settings", zap.Error(err))
		return false
	}

	if !cfg.AutoSubmit || !ev.Published || ev.URL == "" {
		return false
	}
	if !cfg.AllowsContentType(ev.ContentType) {
		return false
	}
	if cfg.IsExcluded(ev.URL) {
		return false
	}

	return true
}

func (o *ContentChangeObserver) enqueueLater(url string, action queue.Action, engines queue.EngineSet) {
	delay := o.Delay
	if delay <= 0 {
		delay = DefaultEnqueueDelay
	}

	deferFn := o.Defer
	if deferFn == nil {
		deferFn = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}

	deferFn(delay, func() {
		id, err := o.Store.Enqueue(context.Background(), url, action, engines)
		if err != nil {
			o.Logger.Error("failed to enqueue",
				zap.String("url", url), zap.String("action", string(action)), zap.Error(err))
			return
		}

		o.Logger.Info("queued for submission",
			zap.Int64("id", id), zap.String("url", url), zap.String("action", string(action)))
	})
}
