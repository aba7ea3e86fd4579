// Package engine implements the delivery clients for the two search-engine
// notification protocols: the IndexNow bulk endpoint and the Google Indexing
// API token endpoint.
package engine

import "context"

// requestTimeoutSeconds is the HTTP timeout for every outbound call. A timed
// out call counts as a transport failure.
const requestTimeoutSeconds = 10

// BatchResult is the outcome of one bulk chunk. Success is chunk-granular;
// the protocol has no per-URL acknowledgement.
type BatchResult struct {
	URLs     []string
	HTTPCode int
	Response string
	Success  bool
}

// URLResult is the outcome of one per-URL notification.
type URLResult struct {
	URL      string
	HTTPCode int
	Response string
	Success  bool
}

// BulkSubmitter posts URL batches with a site key, IndexNow style.
type BulkSubmitter interface {
	Submit(ctx context.Context, urls []string, key string, batchSize int) []BatchResult
}

// IndexingSubmitter posts URLs one by one with an OAuth bearer token,
// Google Indexing API style.
type IndexingSubmitter interface {
	Submit(ctx context.Context, urls []string, account ServiceAccount, notifyType string) []URLResult
}
