// Package settings carries the externally managed configuration the core
// reads but never writes: API credentials, filters and batching knobs.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/vault"
)

// DefaultBatchSize is also the hard ceiling the bulk endpoint accepts.
const DefaultBatchSize = 100

// ErrNoCredentials means no Google credential blob is configured at all, as
// opposed to one that fails to decrypt or parse.
var ErrNoCredentials = errors.New("no google credentials configured")

// Settings is a read-only snapshot of the operator-managed configuration.
type Settings struct {
	// APIKey is the IndexNow site key. Empty disables the bulk backend.
	APIKey string

	// GoogleCredentials is the vault-encrypted service-account JSON blob.
	// Empty disables the indexing backend.
	GoogleCredentials string

	// ContentTypes limits automatic submission to these content types.
	ContentTypes []string

	// ExcludeURLs are skipped by every automatic path, exact string match.
	ExcludeURLs []string

	BatchSize  int
	AutoSubmit bool
}

// Source yields the current settings snapshot. Implementations may read from
// a database, a file, or be static.
type Source interface {
	Load(ctx context.Context) (Settings, error)
}

type staticSource struct {
	s Settings
}

// Static returns a Source that always yields s.
func Static(s Settings) Source {
	return staticSource{s: s}
}

func (s staticSource) Load(context.Context) (Settings, error) {
	return s.s, nil
}

// EffectiveBatchSize clamps the configured batch size to [1, DefaultBatchSize],
// defaulting to the maximum when unset.
func (s Settings) EffectiveBatchSize() int {
	if s.BatchSize < 1 || s.BatchSize > DefaultBatchSize {
		return DefaultBatchSize
	}

	return s.BatchSize
}

// IsExcluded reports whether url is on the exclusion list.
func (s Settings) IsExcluded(url string) bool {
	for _, e := range s.ExcludeURLs {
		if e == url {
			return true
		}
	}

	return false
}

// AllowsContentType reports whether automatic submission covers t.
func (s Settings) AllowsContentType(t string) bool {
	for _, ct := range s.ContentTypes {
		if ct == t {
			return true
		}
	}

	return false
}

// ServiceAccount decrypts and parses the configured Google credentials.
func (s Settings) ServiceAccount(v *vault.Vault) (engine.ServiceAccount, error) {
	if s.GoogleCredentials == "" {
		return engine.ServiceAccount{}, ErrNoCredentials
	}

	raw, err := v.Decrypt(s.GoogleCredentials)
	if err != nil {
		return engine.ServiceAccount{}, fmt.Errorf("settings: decrypt google credentials: %w", err)
	}

	return engine.ParseServiceAccount(raw)
}
