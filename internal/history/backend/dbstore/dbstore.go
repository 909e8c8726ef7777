// Package dbstore keeps history images in a SQL database through gorm. Each
// row holds the image bytes together with the label and timestamp the key
// encodes, so the database can be queried without parsing keys.
package dbstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Driver names.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DefaultSlowQueryThreshold is the duration above which queries are logged at warn.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Record is the table row for one stored image.
type Record struct {
	ID          uint      `gorm:"primaryKey"`
	Key         string    `gorm:"uniqueIndex;size:255;not null"`
	Label       string    `gorm:"index;size:255"`
	DetectedAt  time.Time `gorm:"index"`
	ContentType string    `gorm:"size:64"`
	Size        int
	Data        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName sets the table name.
func (Record) TableName() string {
	return "history_records"
}

// MySQLConfig holds connection parameters for the MySQL driver.
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN returns the go-sql-driver connection string.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// Store is a gorm backed history backend.
type Store struct {
	db     *gorm.DB
	driver string
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Creator = (*Store)(nil)
)

// OpenSQLite opens or creates an SQLite database at path.
func OpenSQLite(path string) (*Store, error) {
	if path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.New(fmt.Errorf("create database directory: %w", err)).
				Component("history").
				Category(errors.CategoryDatabase).
				Context("path", path).
				Build()
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open SQLite database: %w", err)).
			Component("history").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return newStore(db, DriverSQLite)
}

// OpenMySQL connects to a MySQL database.
func OpenMySQL(cfg MySQLConfig) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig())
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return nil, errors.New(fmt.Errorf("failed to open MySQL database: %w", err)).
			Component("history").
			Category(errors.CategoryDatabase).
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}
	return newStore(db, DriverMySQL)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB, driver string) (*Store, error) {
	return newStore(db, driver)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold),
	}
}

func newStore(db *gorm.DB, driver string) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.New(fmt.Errorf("history schema migration failed: %w", err)).
			Component("history").
			Category(errors.CategoryDatabase).
			Context("driver", driver).
			Build()
	}
	GetLogger().Info("history database ready", logger.String("driver", driver))
	return &Store{db: db, driver: driver}, nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return s.driver }

// Put inserts or replaces the row for obj.Key inside a transaction.
func (s *Store) Put(ctx context.Context, obj backend.Object) error {
	rec, err := s.record(obj)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "detected_at", "content_type", "size", "data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return backend.Persistence(s.driver, "put", err)
	}
	return nil
}

// Create inserts the row for obj.Key and leaves an existing row untouched.
func (s *Store) Create(ctx context.Context, obj backend.Object) error {
	rec, err := s.record(obj)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return backend.Persistence(s.driver, "create", res.Error)
	}
	if res.RowsAffected == 0 {
		return backend.KeyExists(s.driver, obj.Key)
	}
	return nil
}

func (s *Store) record(obj backend.Object) (Record, error) {
	if err := backend.ValidateKey(obj.Key); err != nil {
		return Record{}, backend.InvalidKey(s.driver, err)
	}
	rec := Record{
		Key:         obj.Key,
		Label:       obj.Label,
		DetectedAt:  obj.CreatedAt.UTC(),
		ContentType: obj.ContentType,
		Size:        len(obj.Data),
		Data:        obj.Data,
	}
	if rec.ContentType == "" {
		rec.ContentType = backend.ContentTypeForKey(obj.Key)
	}
	return rec, nil
}

// Get loads the row stored under key.
func (s *Store) Get(ctx context.Context, key string) (backend.Object, error) {
	if err := backend.ValidateKey(key); err != nil {
		return backend.Object{}, backend.InvalidKey(s.driver, err)
	}

	var rec Record
	err := s.db.WithContext(ctx).Where("`key` = ?", key).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backend.Object{}, backend.NotFound(s.driver, key)
		}
		return backend.Object{}, backend.Persistence(s.driver, "get", err)
	}
	return backend.Object{
		Key:         rec.Key,
		Data:        rec.Data,
		ContentType: rec.ContentType,
		Label:       rec.Label,
		CreatedAt:   rec.DetectedAt,
	}, nil
}

// Exists reports whether a row with key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := backend.ValidateKey(key); err != nil {
		return false, backend.InvalidKey(s.driver, err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Where("`key` = ?", key).Count(&count).Error; err != nil {
		return false, backend.Persistence(s.driver, "exists", err)
	}
	return count > 0, nil
}

// Delete removes the row stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := backend.ValidateKey(key); err != nil {
		return backend.InvalidKey(s.driver, err)
	}

	result := s.db.WithContext(ctx).Where("`key` = ?", key).Delete(&Record{})
	if result.Error != nil {
		return backend.Persistence(s.driver, "delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return backend.NotFound(s.driver, key)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	err := s.db.WithContext(ctx).Model(&Record{}).Order("`key`").Pluck("key", &keys).Error
	if err != nil {
		return nil, backend.Persistence(s.driver, "list", err)
	}
	return keys, nil
}

// Labels returns how many records exist per label.
func (s *Store) Labels(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Label string
		Count int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&Record{}).
		Select("label, COUNT(*) AS count").
		Group("label").
		Scan(&rows).Error
	if err != nil {
		return nil, backend.Persistence(s.driver, "labels", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic DB object: %w", err)
	}
	return sqlDB.Close()
}
