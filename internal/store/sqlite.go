package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// slowQueryThreshold is the duration after which a query is logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// saveBatchSize limits rows per INSERT statement.
const saveBatchSize = 500

// WhitelistEntry is one row of the whitelist table.
type WhitelistEntry struct {
	GroupID   int64     `gorm:"primaryKey;autoIncrement:false"`
	Enabled   bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (WhitelistEntry) TableName() string {
	return "whitelist_entries"
}

// UserRecord holds the total offense count of a user.
type UserRecord struct {
	UserID     int64     `gorm:"primaryKey;autoIncrement:false"`
	TotalTimes uint64    `gorm:"not null;default:0"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (UserRecord) TableName() string {
	return "user_records"
}

// GroupCounter holds the offense count and last offense time of a user in one group.
type GroupCounter struct {
	UserID        int64  `gorm:"primaryKey;autoIncrement:false"`
	GroupID       int64  `gorm:"primaryKey;autoIncrement:false;index"`
	Times         uint64 `gorm:"not null;default:0"`
	LastTimestamp int64  `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM.
func (GroupCounter) TableName() string {
	return "user_group_counters"
}

// SQLStore keeps the moderation state in a SQLite database.
type SQLStore struct {
	db       *gorm.DB
	path     string
	recorder metrics.Recorder
}

// NewSQLStore opens or creates the database at path and migrates the schema.
func NewSQLStore(path string, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	start := time.Now()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, persistenceError(err, "open", "database", start)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, persistenceError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "database", start)
	}

	if err := db.AutoMigrate(&WhitelistEntry{}, &UserRecord{}, &GroupCounter{}); err != nil {
		s := &SQLStore{db: db}
		_ = s.Close()
		return nil, persistenceError(fmt.Errorf("failed to migrate schema: %w", err), "migrate", "database", start)
	}

	GetLogger().Info("sqlite store opened", logger.String("path", path))
	return &SQLStore{db: db, path: path, recorder: o.recorder}, nil
}

// LoadWhitelist implements Store.
func (s *SQLStore) LoadWhitelist(ctx context.Context) (map[int64]bool, error) {
	start := time.Now()
	var entries []WhitelistEntry
	err := s.db.WithContext(ctx).Find(&entries).Error
	if err != nil {
		err = persistenceError(err, metrics.OpStoreLoad, TableWhitelist, start)
	}
	observe(s.recorder, metrics.OpStoreLoad, TableWhitelist, start, err)
	if err != nil {
		return nil, err
	}

	groups := make(map[int64]bool, len(entries))
	for _, e := range entries {
		groups[e.GroupID] = e.Enabled
	}
	return groups, nil
}

// SaveWhitelist implements Store. Every entry is upserted; rows are never deleted.
func (s *SQLStore) SaveWhitelist(ctx context.Context, groups map[int64]bool) error {
	start := time.Now()
	entries := make([]WhitelistEntry, 0, len(groups))
	for g, enabled := range groups {
		entries = append(entries, WhitelistEntry{GroupID: g, Enabled: enabled})
	}

	var err error
	if len(entries) > 0 {
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).CreateInBatches(&entries, saveBatchSize).Error
	}
	if err != nil {
		err = persistenceError(err, metrics.OpStoreSave, TableWhitelist, start)
	}
	observe(s.recorder, metrics.OpStoreSave, TableWhitelist, start, err)
	return err
}

// LoadRecords implements Store.
func (s *SQLStore) LoadRecords(ctx context.Context) (map[int64]moderation.Record, error) {
	start := time.Now()
	var (
		users    []UserRecord
		counters []GroupCounter
	)
	db := s.db.WithContext(ctx)
	err := db.Find(&users).Error
	if err == nil {
		err = db.Find(&counters).Error
	}
	if err != nil {
		err = persistenceError(err, metrics.OpStoreLoad, TableRecords, start)
	}
	observe(s.recorder, metrics.OpStoreLoad, TableRecords, start, err)
	if err != nil {
		return nil, err
	}

	records := make(map[int64]moderation.Record, len(users))
	for _, u := range users {
		rec := moderation.NewRecord()
		rec.TotalTimes = u.TotalTimes
		records[u.UserID] = *rec
	}
	for _, c := range counters {
		rec, ok := records[c.UserID]
		if !ok {
			rec = *moderation.NewRecord()
		}
		rec.GroupTimes[c.GroupID] = c.Times
		if c.LastTimestamp != 0 {
			rec.LastTrigger[c.GroupID] = c.LastTimestamp
		}
		records[c.UserID] = rec
	}
	return records, nil
}

// SaveRecords implements Store. Users and group counters are upserted in one
// transaction.
func (s *SQLStore) SaveRecords(ctx context.Context, records map[int64]moderation.Record) error {
	start := time.Now()
	users := make([]UserRecord, 0, len(records))
	var counters []GroupCounter
	for user, rec := range records {
		users = append(users, UserRecord{UserID: user, TotalTimes: rec.TotalTimes})
		for g, n := range rec.GroupTimes {
			counters = append(counters, GroupCounter{
				UserID:        user,
				GroupID:       g,
				Times:         n,
				LastTimestamp: rec.LastTrigger[g],
			})
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(users) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"total_times", "updated_at"}),
			}).CreateInBatches(&users, saveBatchSize).Error; err != nil {
				return err
			}
		}
		if len(counters) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "group_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"times", "last_timestamp"}),
			}).CreateInBatches(&counters, saveBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = persistenceError(err, metrics.OpStoreSave, TableRecords, start)
	}
	observe(s.recorder, metrics.OpStoreSave, TableRecords, start, err)
	return err
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
