/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/models"
)

// Reserved attribute names injected into read results so callers can see
// the key of each row without a side channel.
const (
	AttrPk = "pk"
	AttrSk = "sk"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IndexSpec declares a secondary index over two attributes of a table. The
// hash attribute selects the partition, the range attribute orders it.
type IndexSpec struct {
	Name      string
	HashAttr  string
	RangeAttr string
}

// TableSpec declares one logical table and its secondary indexes.
type TableSpec struct {
	Name    string
	Indexes []IndexSpec
}

// Store is the typed adapter over the wide-column store. It holds only the
// connection pool and table metadata; one instance per process.
type Store struct {
	db         *sql.DB
	tables     map[string]TableSpec
	maxRetries uint64
}

// NewStore opens the backing database, applies pool settings, verifies
// connectivity and creates the schema for every declared table.
func NewStore(ctx context.Context, cfg models.DatabaseConfig, tables ...TableSpec) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	for _, t := range tables {
		if !identPattern.MatchString(t.Name) {
			return nil, fmt.Errorf("invalid table name %q", t.Name)
		}
		for _, idx := range t.Indexes {
			if !identPattern.MatchString(idx.Name) {
				return nil, fmt.Errorf("invalid index name %q", idx.Name)
			}
		}
	}

	zap.L().Info("Opening store", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{
		db:         db,
		tables:     make(map[string]TableSpec, len(tables)),
		maxRetries: uint64(cfg.MaxRetries),
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}

	if err := s.initSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Store initialized", zap.Int("tables", len(tables)))
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close store connection", zap.Error(err))
	}
}

func (s *Store) initSchema() error {
	for _, t := range s.tables {
		schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			attrs TEXT NOT NULL,
			PRIMARY KEY (pk, sk)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_sk ON %s(sk);`, t.Name, t.Name, t.Name)
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("unable to create table %s: %w", t.Name, err)
		}

		for _, idx := range t.Indexes {
			stmt := fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(json_extract(attrs, '$.%s'), json_extract(attrs, '$.%s'))`,
				t.Name, idx.Name, t.Name, idx.HashAttr, idx.RangeAttr)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("unable to create index %s on %s: %w", idx.Name, t.Name, err)
			}
		}
	}
	return nil
}

func (s *Store) tableSpec(table string) (TableSpec, error) {
	t, ok := s.tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: unknown table %q", apperrors.ErrValidation, table)
	}
	return t, nil
}

// withRetry runs op with bounded exponential backoff. Only transient store
// failures are retried; logical failures abort immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(wrapped, bo); err != nil {
		if transient(err) {
			return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
		}
		return err
	}
	return nil
}

// transient reports whether the failure may clear on retry. Conditional
// failures and validation errors never do.
func transient(err error) bool {
	if errors.Is(err, apperrors.ErrConditionFailed) ||
		errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrNotFound) {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
