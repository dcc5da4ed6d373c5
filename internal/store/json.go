package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// JSONStore keeps each table in its own JSON file, in the layout of
// whitelist.json and user_info.json.
type JSONStore struct {
	mu            sync.Mutex
	fs            afero.Fs
	whitelistPath string
	recordsPath   string
	recorder      metrics.Recorder
}

// NewJSONStore creates a store writing to the given paths on fs.
func NewJSONStore(fs afero.Fs, whitelistPath, recordsPath string, opts ...Option) (*JSONStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	o := buildOptions(opts)
	return &JSONStore{
		fs:            fs,
		whitelistPath: whitelistPath,
		recordsPath:   recordsPath,
		recorder:      o.recorder,
	}, nil
}

// LoadWhitelist implements Store.
func (s *JSONStore) LoadWhitelist(_ context.Context) (map[int64]bool, error) {
	start := time.Now()
	groups := make(map[int64]bool)
	err := s.load(s.whitelistPath, TableWhitelist, &groups)
	observe(s.recorder, metrics.OpStoreLoad, TableWhitelist, start, err)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = make(map[int64]bool)
	}
	return groups, nil
}

// SaveWhitelist implements Store.
func (s *JSONStore) SaveWhitelist(_ context.Context, groups map[int64]bool) error {
	start := time.Now()
	if groups == nil {
		groups = map[int64]bool{}
	}
	err := s.save(s.whitelistPath, TableWhitelist, groups)
	observe(s.recorder, metrics.OpStoreSave, TableWhitelist, start, err)
	return err
}

// LoadRecords implements Store.
func (s *JSONStore) LoadRecords(_ context.Context) (map[int64]moderation.Record, error) {
	start := time.Now()
	records := make(map[int64]moderation.Record)
	err := s.load(s.recordsPath, TableRecords, &records)
	observe(s.recorder, metrics.OpStoreLoad, TableRecords, start, err)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = make(map[int64]moderation.Record)
	}
	return records, nil
}

// SaveRecords implements Store.
func (s *JSONStore) SaveRecords(_ context.Context, records map[int64]moderation.Record) error {
	start := time.Now()
	if records == nil {
		records = map[int64]moderation.Record{}
	}
	err := s.save(s.recordsPath, TableRecords, records)
	observe(s.recorder, metrics.OpStoreSave, TableRecords, start, err)
	return err
}

// Close implements Store.
func (s *JSONStore) Close() error {
	return nil
}

// load decodes path into out. A missing file is created holding the current
// value of out.
func (s *JSONStore) load(path, table string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		GetLogger().Info("creating missing store file",
			logger.String("path", path),
			logger.String("table", table))
		return s.write(path, table, out)
	}
	if err != nil {
		return persistenceError(err, metrics.OpStoreLoad, table, start)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("store").
			Category(errors.CategoryPersistence).
			Context("operation", metrics.OpStoreLoad).
			Context("table", table).
			Context("path", path).
			Build()
	}

	GetLogger().Debug("store file loaded",
		logger.String("path", path),
		logger.Int("bytes", len(data)))
	return nil
}

func (s *JSONStore) save(path, table string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(path, table, v)
}

// write replaces path atomically through a temporary file in the same directory.
func (s *JSONStore) write(path, table string, v any) error {
	start := time.Now()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}

	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return persistenceError(err, metrics.OpStoreSave, table, start)
	}
	return nil
}
