// Package store persists finalized audit records to sqlite so operators can
// query them without parsing the append-only JSONL log. The JSONL file stays
// the durable source of truth; this store is the queryable view.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sundew-sh/sundew/internal/audit"
)

// Connection is one persisted audit record. Actions and Environment are the
// record's ordered lists serialized as JSON.
type Connection struct {
	ID            string `gorm:"primaryKey"`
	PeerAddr      string `gorm:"index"`
	StartedAt     time.Time
	EndedAt       time.Time
	ActionCount   int
	LoginAttempts int
	Actions       string `gorm:"type:text"`
	Environment   string `gorm:"type:text"`
	CreatedAt     time.Time
}

// Store wraps the sqlite database holding audit records.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the audit database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Connection{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Save persists one finalized record.
func (s *Store) Save(r *audit.Record) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("encode actions for %s: %w", r.ID, err)
	}
	env, err := json.Marshal(r.Env)
	if err != nil {
		return fmt.Errorf("encode environment for %s: %w", r.ID, err)
	}

	logins := 0
	for _, a := range r.Actions {
		if a.Kind == audit.KindLoginAttempt {
			logins++
		}
	}

	row := Connection{
		ID:            r.ID.String(),
		PeerAddr:      r.PeerAddr,
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		ActionCount:   len(r.Actions),
		LoginAttempts: logins,
		Actions:       string(actions),
		Environment:   string(env),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit record %s: %w", r.ID, err)
	}
	return nil
}

// Sink adapts the store to the pipeline. Close is a no-op: the admin API
// keeps querying until the very end of shutdown, so the database itself is
// closed by main after everything else stops.
func (s *Store) Sink() audit.Sink {
	return audit.SinkFunc(s.Save)
}

// Entry is one audit record decoded back out of the database.
type Entry struct {
	ID          string         `json:"connection_id"`
	PeerAddr    string         `json:"peer_address,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Actions     []audit.Action `json:"actions"`
	Environment []audit.EnvVar `json:"environment,omitempty"`
}

// QueryOptions filters record retrieval.
type QueryOptions struct {
	PeerAddr string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// QueryResult holds matching entries plus pagination metadata.
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Query retrieves audit records matching the given options, newest first.
func (s *Store) Query(opts QueryOptions) (*QueryResult, error) {
	tx := s.db.Model(&Connection{})

	if opts.PeerAddr != "" {
		tx = tx.Where("peer_addr = ?", opts.PeerAddr)
	}
	if opts.Since != nil {
		tx = tx.Where("started_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("started_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var rows []Connection
	if err := tx.Order("started_at DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:        row.ID,
			PeerAddr:  row.PeerAddr,
			StartedAt: row.StartedAt,
			EndedAt:   row.EndedAt,
		}
		if err := json.Unmarshal([]byte(row.Actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for %s: %w", row.ID, err)
		}
		if len(row.Environment) > 0 {
			if err := json.Unmarshal([]byte(row.Environment), &e.Environment); err != nil {
				return nil, fmt.Errorf("decode environment for %s: %w", row.ID, err)
			}
		}
		entries = append(entries, e)
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// Stats summarizes recorded activity.
type Stats struct {
	Connections   int64 `json:"connections"`
	LoginAttempts int64 `json:"login_attempts"`
}

// Stats returns totals across all persisted records.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.Model(&Connection{}).Count(&st.Connections).Error; err != nil {
		return st, err
	}
	if err := s.db.Model(&Connection{}).
		Select("COALESCE(SUM(login_attempts), 0)").
		Scan(&st.LoginAttempts).Error; err != nil {
		return st, err
	}
	return st, nil
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// PurgeOlderThan removes records whose connection started more than days
// days ago. Returns the number of rows deleted. The JSONL log is never
// purged; retention only bounds the queryable view.
func (s *Store) PurgeOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := s.db.Where("started_at < ?", cutoff).Delete(&Connection{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		logrus.Infof("purged %d audit records older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
