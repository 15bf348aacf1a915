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

// Package dao implements one data-access object per aggregate. DAOs are
// stateless, hold a reference to the store adapter and translate store
// failures into the closed error taxonomy. They never retry logical
// errors and never enforce business rules beyond per-row invariants.
package dao

import (
	"time"

	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// Secondary index names.
const (
	UserOrdersIndex = "UserOrdersIndex"
	EmailIndex      = "EmailIndex"
)

// Tables carries the resolved table names shared by all DAOs.
type Tables struct {
	Users     string
	Orders    string
	Inventory string
}

// TableSpecs returns the adapter schema declarations for the three logical
// tables, including the orders GSI (username, newest first) and the users
// email index.
func TableSpecs(t Tables) []kvstore.TableSpec {
	return []kvstore.TableSpec{
		{
			Name: t.Users,
			Indexes: []kvstore.IndexSpec{
				{Name: EmailIndex, HashAttr: "email", RangeAttr: "created_at"},
			},
		},
		{
			Name: t.Orders,
			Indexes: []kvstore.IndexSpec{
				// The range attribute is a fixed-width copy of created_at;
				// the JSON created_at itself is RFC3339Nano, whose trimmed
				// fractions misorder at second boundaries.
				{Name: UserOrdersIndex, HashAttr: "username", RangeAttr: "created_sort"},
			},
		},
		{Name: t.Inventory},
	}
}

// TablesFromConfig adapts the config table names.
func TablesFromConfig(cfg models.TableConfig) Tables {
	return Tables{Users: cfg.Users, Orders: cfg.Orders, Inventory: cfg.Inventory}
}

// nowUTC returns the current instant in UTC. Every persisted timestamp is
// UTC so lexicographic comparisons on RFC3339 sort keys stay correct.
func nowUTC() time.Time { return time.Now().UTC() }

// ledgerSk formats a ledger sort key. Rows are keyed by creation time in
// a fixed-width layout so string order is chronological order; the caller
// appends a UUID suffix on collision.
func ledgerSk(ts time.Time) string { return ts.UTC().Format(kvstore.TimeSortFormat) }
