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

// Package kvstore is the typed facade over the wide-column store backing
// the transactional core. Rows are addressed by (partition key, sort key),
// attributes are schemaless JSON, and writes may carry a condition that is
// evaluated atomically against the current row image.
package kvstore

import (
	"encoding/json"
	"fmt"
)

// TimeSortFormat is the timestamp layout used wherever a time participates
// in sort-key or condition comparisons. The fraction is fixed at nine
// digits so lexicographic order matches chronological order; RFC3339Nano
// trims trailing zeros and does not.
const TimeSortFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Item is one row image: schemaless attributes keyed by name. Numeric
// amounts are stored as strings to preserve decimal precision.
type Item map[string]any

// Key addresses one row.
type Key struct {
	Pk string
	Sk string
}

// MarshalItem converts an entity struct into a row image via its JSON tags.
func MarshalItem(v any) (Item, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal item: %w", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("unable to convert item to attribute map: %w", err)
	}
	return item, nil
}

// UnmarshalItem converts a row image back into an entity struct.
func UnmarshalItem(item Item, v any) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("unable to marshal attribute map: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unable to unmarshal item: %w", err)
	}
	return nil
}

// StringAttr returns the named attribute as a string, or "" when absent or
// of another type.
func (i Item) StringAttr(name string) string {
	s, _ := i[name].(string)
	return s
}
