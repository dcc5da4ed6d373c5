// Package store persists the group whitelist and the per-user moderation
// records. Both tables are loaded once at startup and written back at
// shutdown and on periodic flushes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// Table names used in metrics, logs and error context.
const (
	TableWhitelist = "whitelist"
	TableRecords   = "records"
)

// Store loads and saves the persisted moderation state.
type Store interface {
	// LoadWhitelist returns the stored whitelist. A store without one is
	// initialized empty.
	LoadWhitelist(ctx context.Context) (map[int64]bool, error)
	SaveWhitelist(ctx context.Context, groups map[int64]bool) error

	// LoadRecords returns the stored moderation records keyed by user id.
	LoadRecords(ctx context.Context) (map[int64]moderation.Record, error)
	SaveRecords(ctx context.Context, records map[int64]moderation.Record) error

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	recorder metrics.Recorder
}

// WithRecorder reports load and save operations to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{recorder: metrics.NewNoOpRecorder()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open creates the store selected by settings. fs is used by the JSON backend.
func Open(settings *conf.Settings, fs afero.Fs, opts ...Option) (Store, error) {
	switch settings.Storage.Type {
	case conf.StorageJSON, "":
		return NewJSONStore(fs, settings.WhitelistPath(), settings.RecordsPath(), opts...)
	case conf.StorageSQLite:
		return NewSQLStore(settings.Storage.Path, opts...)
	default:
		return nil, errors.Newf("unknown storage type %q", settings.Storage.Type).
			Component("store").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// persistenceError marks err as a persistence failure of op on table.
func persistenceError(err error, op, table string, start time.Time) error {
	return errors.New(err).
		Component("store").
		Category(errors.CategoryPersistence).
		Context("operation", op).
		Context("table", table).
		Timing(op, time.Since(start)).
		Build()
}

// observe records the outcome and duration of op on table.
func observe(r metrics.Recorder, op, table string, start time.Time, err error) {
	name := fmt.Sprintf("%s:%s", op, table)
	r.RecordDuration(name, time.Since(start).Seconds())
	if err != nil {
		r.RecordOperation(name, metrics.StatusError)
		r.RecordError(name, string(errors.CategoryOf(err)))
		return
	}
	r.RecordOperation(name, metrics.StatusSuccess)
}
