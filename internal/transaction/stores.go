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

// Package transaction implements the transaction manager: it composes
// order creation, fiat balance mutation, asset balance mutation and
// ledger writes into atomic, recoverable units executed under the user's
// distributed lock.
package transaction

import (
	"context"

	"github.com/shopspring/decimal"

	"cnop-core/internal/models"
)

// The manager depends on these narrow contracts rather than on concrete
// DAOs so failure policies can be exercised by wrapping a real store with
// a faulty one.

// UserStore is the slice of the user DAO the manager needs.
type UserStore interface {
	Create(ctx context.Context, user models.User) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Delete(ctx context.Context, username string) error
}

// BalanceStore covers the fiat balance row and its ledger.
type BalanceStore interface {
	GetBalance(ctx context.Context, username string) (*models.Balance, error)
	CreateBalance(ctx context.Context, balance models.Balance) (*models.Balance, error)
	CreateTransaction(ctx context.Context, tx models.BalanceTransaction) (*models.BalanceTransaction, error)
	ApplyTransaction(ctx context.Context, tx models.BalanceTransaction) (*models.Balance, error)
	ListTransactions(ctx context.Context, username string, limit int, cursor string) ([]models.BalanceTransaction, string, error)
	CleanupFailedTransaction(ctx context.Context, username, transactionID string) error
}

// OrderStore covers order persistence. UpdateStatus writes blindly; the
// state-machine check happens here in the manager.
type OrderStore interface {
	Create(ctx context.Context, order models.Order) (*models.Order, error)
	Get(ctx context.Context, orderID string) (*models.Order, error)
	ListByUser(ctx context.Context, username string, limit, offset int) ([]models.Order, error)
	ListByUserAndAsset(ctx context.Context, username, assetID string, limit, offset int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus, reason string) (*models.Order, error)
}

// AssetBalanceStore covers per-(user, asset) holdings.
type AssetBalanceStore interface {
	Upsert(ctx context.Context, username, assetID string, delta decimal.Decimal) (*models.AssetBalance, error)
	Get(ctx context.Context, username, assetID string) (*models.AssetBalance, error)
	GetAll(ctx context.Context, username string) ([]models.AssetBalance, error)
}

// AssetTransactionStore appends asset ledger rows.
type AssetTransactionStore interface {
	Create(ctx context.Context, tx models.AssetTransaction) (*models.AssetTransaction, error)
}

// AssetStore reads the inventory.
type AssetStore interface {
	Get(ctx context.Context, assetID string) (*models.Asset, error)
	GetAll(ctx context.Context, activeOnly bool) ([]models.Asset, error)
}

// Locker is the scoped lock primitive; fn runs with the user's lock held
// and the lock is released on every exit path.
type Locker interface {
	WithLock(ctx context.Context, username, operation string, fn func(ctx context.Context) error) error
}
