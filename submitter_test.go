package indexrelay_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay"
	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/queue"
	"github.com/patrice-hue/indexrelay/settings"
)

func newSubmitter(store datastore.Store, bulk *fakeBulk, indexing *fakeIndexing, cfg settings.Settings) *indexrelay.Submitter {
	return &indexrelay.Submitter{
		Store:    store,
		Bulk:     bulk,
		Indexing: indexing,
		Settings: settings.Static(cfg),
		Vault:    testVault,
		Logger:   zap.NewNop(),
	}
}

func TestParseURLList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "newline separated",
			raw:  "https://ex.com/a\nhttps://ex.com/b",
			want: []string{"https://ex.com/a", "https://ex.com/b"},
		},
		{
			name: "mixed separators and whitespace",
			raw:  "  https://ex.com/a ,\r\n\thttps://ex.com/b\r",
			want: []string{"https://ex.com/a", "https://ex.com/b"},
		},
		{
			name: "invalid entries dropped",
			raw:  "not a url\nftp://ex.com/a\n/relative/path\nhttps://ex.com/ok",
			want: []string{"https://ex.com/ok"},
		},
		{
			name: "duplicates removed in order",
			raw:  "https://ex.com/b\nhttps://ex.com/a\nhttps://ex.com/b",
			want: []string{"https://ex.com/b", "https://ex.com/a"},
		},
		{
			name: "empty input",
			raw:  " \n\n ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, indexrelay.ParseURLList(tt.raw))
		})
	}
}

func TestSubmitter_SubmitNowBothEngines(t *testing.T) {
	store := newMemStore()
	bulk := &fakeBulk{}
	indexing := &fakeIndexing{}

	s := newSubmitter(store, bulk, indexing, settings.Settings{
		APIKey:            "site-key",
		GoogleCredentials: googleCredentialsBlob(t),
	})

	results, err := s.SubmitNow(context.Background(),
		[]string{"https://ex.com/a", "https://ex.com/a", "https://ex.com/b"},
		[]string{queue.EngineBing, queue.EngineGoogle},
		queue.ActionUpdated)
	require.NoError(t, err)

	// Two deduplicated URLs times two engines.
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, queue.StatusDone, r.Status)
		assert.Equal(t, 200, r.HTTPCode)
		assert.False(t, r.Timestamp.IsZero())
	}

	require.Len(t, bulk.calls, 1)
	assert.Equal(t, []string{"https://ex.com/a", "https://ex.com/b"}, bulk.calls[0].urls)
	require.Len(t, indexing.calls, 1)

	// Every outcome lands as its own historical row.
	_, total, err := store.Query(context.Background(), datastore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	items, _, err := store.Query(context.Background(), datastore.Filter{Engine: queue.EngineGoogle})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestSubmitter_DeletedSkipsBulk(t *testing.T) {
	store := newMemStore()
	bulk := &fakeBulk{}
	indexing := &fakeIndexing{}

	s := newSubmitter(store, bulk, indexing, settings.Settings{
		APIKey:            "site-key",
		GoogleCredentials: googleCredentialsBlob(t),
	})

	results, err := s.SubmitNow(context.Background(),
		[]string{"https://ex.com/gone"},
		[]string{queue.EngineBing, queue.EngineGoogle},
		queue.ActionDeleted)
	require.NoError(t, err)

	assert.Empty(t, bulk.calls)
	require.Len(t, results, 1)
	assert.Equal(t, queue.EngineGoogle, results[0].Engine)
}

func TestSubmitter_NoValidURLs(t *testing.T) {
	s := newSubmitter(newMemStore(), &fakeBulk{}, &fakeIndexing{}, settings.Settings{APIKey: "site-key"})

	_, err := s.SubmitNow(context.Background(),
		[]string{"not a url", ""},
		[]string{queue.EngineBing},
		queue.ActionUpdated)
	assert.ErrorIs(t, err, indexrelay.ErrNoValidURLs)
}

func TestSubmitter_GoogleWithoutCredentials(t *testing.T) {
	store := newMemStore()
	bulk := &fakeBulk{}
	indexing := &fakeIndexing{}

	s := newSubmitter(store, bulk, indexing, settings.Settings{APIKey: "site-key"})

	results, err := s.SubmitNow(context.Background(),
		[]string{"https://ex.com/a"},
		[]string{queue.EngineBing, queue.EngineGoogle},
		queue.ActionUpdated)
	require.NoError(t, err)

	// Unconfigured engine is skipped, not errored.
	assert.Empty(t, indexing.calls)
	require.Len(t, results, 1)
	assert.Equal(t, queue.EngineBing, results[0].Engine)
}

func TestSubmitter_FailureMapsToFailedStatus(t *testing.T) {
	store := newMemStore()
	bulk := &fakeBulk{
		results: func(urls []string) []engine.BatchResult {
			return []engine.BatchResult{{URLs: urls, HTTPCode: 422, Response: "bad key", Success: false}}
		},
	}

	s := newSubmitter(store, bulk, &fakeIndexing{}, settings.Settings{APIKey: "site-key"})

	results, err := s.SubmitNow(context.Background(),
		[]string{"https://ex.com/a"},
		[]string{queue.EngineBing},
		queue.ActionUpdated)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, queue.StatusFailed, results[0].Status)
	assert.Equal(t, 422, results[0].HTTPCode)

	items, _, err := store.Query(context.Background(), datastore.Filter{Status: queue.StatusFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad key", items[0].Response)
}

func TestSubmitter_BulkEnqueue(t *testing.T) {
	store := newMemStore()
	s := newSubmitter(store, &fakeBulk{}, &fakeIndexing{}, settings.Settings{
		ExcludeURLs: []string{"https://ex.com/skip"},
	})

	queued, err := s.BulkEnqueue(context.Background(),
		[]string{"https://ex.com/a", "https://ex.com/skip", "", "https://ex.com/b"},
		queue.EngineSet{queue.EngineBing, queue.EngineGoogle})
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	items, total, err := store.Query(context.Background(), datastore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, it := range items {
		assert.Equal(t, queue.StatusPending, it.Status)
		assert.Equal(t, queue.ActionUpdated, it.Action)
	}
}
