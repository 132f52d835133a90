package runtime

import (
	"context"
	"fmt"
	"log/slog"

	blobgcs "github.com/ahandley/textline/internal/blob/gcs"
	blobmem "github.com/ahandley/textline/internal/blob/memory"
	badgercache "github.com/ahandley/textline/internal/cache/badger"
	cachemem "github.com/ahandley/textline/internal/cache/memory"
	"github.com/ahandley/textline/internal/config"
	messengermem "github.com/ahandley/textline/internal/messenger/memory"
	"github.com/ahandley/textline/internal/messenger/twilio"
	"github.com/ahandley/textline/internal/ports"
	"github.com/ahandley/textline/internal/provider/openai"
	"github.com/ahandley/textline/internal/server"
	"github.com/ahandley/textline/internal/storage/sqlite"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithConfig sets the loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.cfg = cfg
		return nil
	}
}

// WithBadgerCache uses a badger-backed cache and queue. An empty path
// keeps everything in memory.
func WithBadgerCache(path string) Option {
	return func(a *App) error {
		store, err := badgercache.New(badgercache.Options{Path: path, Logger: a.logger})
		if err != nil {
			return fmt.Errorf("open badger cache: %w", err)
		}
		a.cache = store
		return nil
	}
}

// WithMemoryCache uses the in-process cache and queue. Dedup marks and
// queued events do not survive a restart.
func WithMemoryCache() Option {
	return func(a *App) error {
		a.cache = cachemem.New()
		return nil
	}
}

// WithSQLiteStore uses SQLite for durable conversation state and the
// crisis audit trail.
func WithSQLiteStore(dsn string) Option {
	return func(a *App) error {
		store, err := sqlite.New(dsn)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = store
		a.audit = store
		return nil
	}
}

// WithOpenAI uses OpenAI chat completions for generation.
func WithOpenAI(apiKey, model string) Option {
	return func(a *App) error {
		if apiKey == "" {
			return fmt.Errorf("openai api key required")
		}
		a.generator = openai.New(apiKey, model)
		return nil
	}
}

// WithTwilio sends outbound messages through Twilio.
func WithTwilio(accountSID, authToken, from string) Option {
	return func(a *App) error {
		client, err := twilio.New(twilio.Options{
			AccountSID: accountSID,
			AuthToken:  authToken,
			From:       from,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		a.messenger = client
		return nil
	}
}

// WithGCS stores workflow assets in a GCS bucket.
func WithGCS(ctx context.Context, bucket string) Option {
	return func(a *App) error {
		store, err := blobgcs.New(ctx, bucket)
		if err != nil {
			return err
		}
		a.blobs = store
		return nil
	}
}

// WithMemoryBlobs keeps workflow assets in process memory. Suitable for
// tests and local development only.
func WithMemoryBlobs() Option {
	return func(a *App) error {
		a.blobs = blobmem.New()
		return nil
	}
}

// WithRecordingMessenger swaps in the in-memory messenger. Local
// development mode: replies are logged, never delivered.
func WithRecordingMessenger() Option {
	return func(a *App) error {
		a.messenger = messengermem.New()
		return nil
	}
}

// WithGenerator sets a custom generation backend.
func WithGenerator(g ports.Generator) Option {
	return func(a *App) error {
		a.generator = g
		return nil
	}
}

// WithMessenger sets a custom outbound messenger.
func WithMessenger(m ports.Messenger) Option {
	return func(a *App) error {
		a.messenger = m
		return nil
	}
}

// WithBlobStore sets a custom asset store.
func WithBlobStore(b ports.BlobStore) Option {
	return func(a *App) error {
		a.blobs = b
		return nil
	}
}

// WithOwnerResolver sets the inbound phone-number-to-owner mapping.
// The default treats every number as its own household.
func WithOwnerResolver(resolve server.OwnerResolver) Option {
	return func(a *App) error {
		a.resolver = resolve
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}
