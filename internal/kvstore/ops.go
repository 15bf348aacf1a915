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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
)

// Get returns the row image at (pk, sk) or apperrors.ErrNotFound.
func (s *Store) Get(ctx context.Context, table, pk, sk string) (Item, error) {
	if _, err := s.tableSpec(table); err != nil {
		return nil, err
	}

	var item Item
	err := s.withRetry(ctx, func() error {
		var attrs string
		query := fmt.Sprintf(`SELECT attrs FROM %s WHERE pk = ? AND sk = ?`, table)
		err := s.db.QueryRowContext(ctx, query, pk, sk).Scan(&attrs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, pk, sk)
		}
		if err != nil {
			return fmt.Errorf("unable to get item: %w", err)
		}
		item, err = decodeAttrs(attrs, pk, sk)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Put writes the row image at (pk, sk), optionally guarded by a condition
// over the existing image. The read-evaluate-write runs inside one store
// transaction so concurrent conditional writers serialize on the row.
func (s *Store) Put(ctx context.Context, table, pk, sk string, item Item, cond Condition) error {
	if _, err := s.tableSpec(table); err != nil {
		return err
	}
	attrs, err := encodeAttrs(item)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("unable to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if cond != nil {
			existing, err := readForCondition(ctx, tx, table, pk, sk)
			if err != nil {
				return err
			}
			if !cond.Evaluate(existing) {
				return fmt.Errorf("%w: %s on %s/%s", apperrors.ErrConditionFailed, cond.String(), pk, sk)
			}
		}

		query := fmt.Sprintf(`INSERT OR REPLACE INTO %s (pk, sk, attrs) VALUES (?, ?, ?)`, table)
		if _, err := tx.ExecContext(ctx, query, pk, sk, attrs); err != nil {
			return fmt.Errorf("unable to put item: %w", err)
		}
		return tx.Commit()
	})
}

// Update applies set operations to an existing row and returns the new
// image. The row must exist; a condition, when present, is evaluated
// against the current image in the same transaction.
func (s *Store) Update(ctx context.Context, table, pk, sk string, set map[string]any, cond Condition) (Item, error) {
	if _, err := s.tableSpec(table); err != nil {
		return nil, err
	}

	var updated Item
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("unable to begin transaction: %w", err)
		}
		defer tx.Rollback()

		existing, err := readForCondition(ctx, tx, table, pk, sk)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, pk, sk)
		}
		if cond != nil && !cond.Evaluate(existing) {
			return fmt.Errorf("%w: %s on %s/%s", apperrors.ErrConditionFailed, cond.String(), pk, sk)
		}

		next := make(Item, len(existing)+len(set))
		for k, v := range existing {
			next[k] = v
		}
		for k, v := range set {
			next[k] = v
		}
		delete(next, AttrPk)
		delete(next, AttrSk)

		attrs, err := encodeAttrs(next)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`UPDATE %s SET attrs = ? WHERE pk = ? AND sk = ?`, table)
		if _, err := tx.ExecContext(ctx, query, attrs, pk, sk); err != nil {
			return fmt.Errorf("unable to update item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		next[AttrPk] = pk
		next[AttrSk] = sk
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the row at (pk, sk). Without a condition a missing row is
// not an error; with one, a missing or non-matching row fails with
// apperrors.ErrConditionFailed.
func (s *Store) Delete(ctx context.Context, table, pk, sk string, cond Condition) error {
	if _, err := s.tableSpec(table); err != nil {
		return err
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("unable to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if cond != nil {
			existing, err := readForCondition(ctx, tx, table, pk, sk)
			if err != nil {
				return err
			}
			if !cond.Evaluate(existing) {
				return fmt.Errorf("%w: %s on %s/%s", apperrors.ErrConditionFailed, cond.String(), pk, sk)
			}
		}

		query := fmt.Sprintf(`DELETE FROM %s WHERE pk = ? AND sk = ?`, table)
		if _, err := tx.ExecContext(ctx, query, pk, sk); err != nil {
			return fmt.Errorf("unable to delete item: %w", err)
		}
		return tx.Commit()
	})
}

// QueryInput describes one query. With IndexName empty the partition value
// addresses the main table's pk; otherwise it addresses the index's hash
// attribute and results order by the index's range attribute.
type QueryInput struct {
	Table      string
	Pk         string
	SkPrefix   string
	SkBefore   string // exclusive upper bound on sk, for cursor pagination
	IndexName  string
	Filter     map[string]string // equality filter on attributes
	Limit      int
	Offset     int
	Descending bool
}

// Query returns ordered row images for one partition.
func (s *Store) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	spec, err := s.tableSpec(in.Table)
	if err != nil {
		return nil, err
	}

	var (
		where    []string
		args     []any
		orderCol string
	)

	if in.IndexName == "" {
		where = append(where, "pk = ?")
		args = append(args, in.Pk)
		orderCol = "sk"
		if in.SkPrefix != "" {
			where = append(where, "sk LIKE ? ESCAPE '\\'")
			args = append(args, escapeLike(in.SkPrefix)+"%")
		}
		if in.SkBefore != "" {
			where = append(where, "sk < ?")
			args = append(args, in.SkBefore)
		}
	} else {
		idx, ok := findIndex(spec, in.IndexName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown index %q on table %q", apperrors.ErrValidation, in.IndexName, in.Table)
		}
		where = append(where, fmt.Sprintf("json_extract(attrs, '$.%s') = ?", idx.HashAttr))
		args = append(args, in.Pk)
		orderCol = fmt.Sprintf("json_extract(attrs, '$.%s')", idx.RangeAttr)
	}

	for field, value := range in.Filter {
		if !identPattern.MatchString(field) {
			return nil, fmt.Errorf("%w: invalid filter attribute %q", apperrors.ErrValidation, field)
		}
		where = append(where, fmt.Sprintf("json_extract(attrs, '$.%s') = ?", field))
		args = append(args, value)
	}

	direction := "ASC"
	if in.Descending {
		direction = "DESC"
	}
	query := fmt.Sprintf(`SELECT pk, sk, attrs FROM %s WHERE %s ORDER BY %s %s`,
		in.Table, strings.Join(where, " AND "), orderCol, direction)
	if in.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", in.Limit, in.Offset)
	}

	var items []Item
	err = s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("unable to query items: %w", err)
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		items = items[:0]
		for rows.Next() {
			var pk, sk, attrs string
			if err := rows.Scan(&pk, &sk, &attrs); err != nil {
				return fmt.Errorf("unable to scan item row: %w", err)
			}
			item, err := decodeAttrs(attrs, pk, sk)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Scan returns every row of a table ordered by key. Used only for small
// reference tables (inventory); the transactional tables are never scanned.
func (s *Store) Scan(ctx context.Context, table string, limit int) ([]Item, error) {
	if _, err := s.tableSpec(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT pk, sk, attrs FROM %s ORDER BY pk, sk`, table)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var items []Item
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("unable to scan table: %w", err)
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		items = items[:0]
		for rows.Next() {
			var pk, sk, attrs string
			if err := rows.Scan(&pk, &sk, &attrs); err != nil {
				return fmt.Errorf("unable to scan item row: %w", err)
			}
			item, err := decodeAttrs(attrs, pk, sk)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// BatchGet returns the row images for the requested keys. Keys absent from
// the first pass are re-fetched once before being treated as missing;
// missing keys are simply omitted from the result.
func (s *Store) BatchGet(ctx context.Context, table string, keys []Key) (map[Key]Item, error) {
	if _, err := s.tableSpec(table); err != nil {
		return nil, err
	}

	result := make(map[Key]Item, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	const chunkSize = 100
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.batchGetChunk(ctx, table, keys[start:end], result); err != nil {
			return nil, err
		}
	}

	// Second pass for anything unprocessed.
	var missing []Key
	for _, k := range keys {
		if _, ok := result[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		if err := s.batchGetChunk(ctx, table, missing, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Store) batchGetChunk(ctx context.Context, table string, keys []Key, out map[Key]Item) error {
	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		placeholders[i] = "(pk = ? AND sk = ?)"
		args = append(args, k.Pk, k.Sk)
	}
	query := fmt.Sprintf(`SELECT pk, sk, attrs FROM %s WHERE %s`, table, strings.Join(placeholders, " OR "))

	return s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("unable to batch get items: %w", err)
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		for rows.Next() {
			var pk, sk, attrs string
			if err := rows.Scan(&pk, &sk, &attrs); err != nil {
				return fmt.Errorf("unable to scan item row: %w", err)
			}
			item, err := decodeAttrs(attrs, pk, sk)
			if err != nil {
				return err
			}
			out[Key{Pk: pk, Sk: sk}] = item
		}
		return rows.Err()
	})
}

func readForCondition(ctx context.Context, tx *sql.Tx, table, pk, sk string) (Item, error) {
	var attrs string
	query := fmt.Sprintf(`SELECT attrs FROM %s WHERE pk = ? AND sk = ?`, table)
	err := tx.QueryRowContext(ctx, query, pk, sk).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read item for condition: %w", err)
	}
	return decodeAttrs(attrs, pk, sk)
}

func encodeAttrs(item Item) (string, error) {
	clean := make(Item, len(item))
	for k, v := range item {
		if k == AttrPk || k == AttrSk {
			continue
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("unable to encode attributes: %w", err)
	}
	return string(raw), nil
}

func decodeAttrs(attrs, pk, sk string) (Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(attrs), &item); err != nil {
		return nil, fmt.Errorf("unable to decode attributes for %s/%s: %w", pk, sk, err)
	}
	item[AttrPk] = pk
	item[AttrSk] = sk
	return item, nil
}

func findIndex(spec TableSpec, name string) (IndexSpec, bool) {
	for _, idx := range spec.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
