package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/patrice-hue/indexrelay/settings"
)

// ENV maps the Env vars.
type ENV struct {
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabaseURL string `envconfig:"DB_URL" default:"indexrelay.db"`
	QueueTable  string `envconfig:"QUEUE_TABLE" default:"submission_queue"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	SiteURL  string `envconfig:"SITE_URL" required:"true"`
	SiteRoot string `envconfig:"SITE_ROOT" default:"."`

	// Secret derives the vault key. Rotating it invalidates stored
	// credentials.
	Secret string `envconfig:"SECRET" required:"true"`

	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL" default:"5m"`

	APIKey            string   `envconfig:"API_KEY"`
	GoogleCredentials string   `envconfig:"GOOGLE_CREDENTIALS"`
	ContentTypes      []string `envconfig:"CONTENT_TYPES" default:"post,page"`
	ExcludeURLs       []string `envconfig:"EXCLUDE_URLS"`
	BatchSize         int      `envconfig:"BATCH_SIZE" default:"100"`
	AutoSubmit        bool     `envconfig:"AUTO_SUBMIT" default:"true"`
}

// Process loads Environment vars into ENV.
func Process() (ENV, error) {
	var e ENV
	if err := envconfig.Process("", &e); err != nil {
		return ENV{}, err
	}

	return e, nil
}

// Settings maps the operator-managed part of the environment onto a settings
// snapshot.
func (e ENV) Settings() settings.Settings {
	return settings.Settings{
		APIKey:            e.APIKey,
		GoogleCredentials: e.GoogleCredentials,
		ContentTypes:      e.ContentTypes,
		ExcludeURLs:       e.ExcludeURLs,
		BatchSize:         e.BatchSize,
		AutoSubmit:        e.AutoSubmit,
	}
}
