package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultIndexNowEndpoint is the shared IndexNow ingestion endpoint.
	DefaultIndexNowEndpoint = "https://api.indexnow.org/indexnow"

	// MaxBatchSize is the hard ceiling on URLs per request.
	MaxBatchSize = 100

	rateLimitBackoff = 5 * time.Second
)

// IndexNow submits URL batches to the IndexNow endpoint. Site ownership is
// proven by a key file served at <site>/<key>.txt.
type IndexNow struct {
	endpoint string
	siteURL  string
	host     string
	client   *http.Client
	sleep    func(time.Duration)
	logger   *zap.Logger
}

type IndexNowOption func(*IndexNow)

func WithIndexNowEndpoint(endpoint string) IndexNowOption {
	return func(c *IndexNow) { c.endpoint = endpoint }
}

func WithIndexNowHTTPClient(client *http.Client) IndexNowOption {
	return func(c *IndexNow) { c.client = client }
}

// WithIndexNowSleep replaces the backoff sleep used after a 429.
func WithIndexNowSleep(sleep func(time.Duration)) IndexNowOption {
	return func(c *IndexNow) { c.sleep = sleep }
}

// NewIndexNow creates a client submitting on behalf of siteURL.
func NewIndexNow(siteURL string, logger *zap.Logger, opts ...IndexNowOption) (*IndexNow, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("NewIndexNow: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("NewIndexNow: site URL %q has no host", siteURL)
	}

	c := &IndexNow{
		endpoint: DefaultIndexNowEndpoint,
		siteURL:  strings.TrimRight(siteURL, "/"),
		host:     u.Host,
		client:   &http.Client{Timeout: requestTimeoutSeconds * time.Second},
		sleep:    time.Sleep,
		logger:   logger,
	}

	for _, o := range opts {
		o(c)
	}

	return c, nil
}

type indexNowPayload struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// Submit chunks urls into batches of at most batchSize and posts each chunk
// once, retrying a chunk exactly once after a fixed backoff when rate
// limited. The second outcome is final for that chunk.
func (c *IndexNow) Submit(ctx context.Context, urls []string, key string, batchSize int) []BatchResult {
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	results := make([]BatchResult, 0, (len(urls)+batchSize-1)/batchSize)

	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		payload := indexNowPayload{
			Host:        c.host,
			Key:         key,
			KeyLocation: c.siteURL + "/" + key + ".txt",
			URLList:     batch,
		}

		res := c.post(ctx, payload, batch)
		if res.HTTPCode == http.StatusTooManyRequests {
			c.logger.Warn("indexnow rate limited, retrying chunk once",
				zap.Int("urls", len(batch)))
			c.sleep(rateLimitBackoff)
			res = c.post(ctx, payload, batch)
		}

		results = append(results, res)
	}

	return results
}

func (c *IndexNow) post(ctx context.Context, payload indexNowPayload, batch []string) BatchResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return BatchResult{URLs: batch, Response: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return BatchResult{URLs: batch, Response: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport failure: no response, synthetic zero status code.
		return BatchResult{URLs: batch, Response: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return BatchResult{URLs: batch, HTTPCode: resp.StatusCode, Response: err.Error()}
	}

	return BatchResult{
		URLs:     batch,
		HTTPCode: resp.StatusCode,
		Response: string(respBody),
		Success:  resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}
