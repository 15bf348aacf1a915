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

package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// BalanceDAO persists the fiat Balance row (Pk=username, Sk="BALANCE") and
// the append-only BalanceTransaction ledger (Pk="TRANS#"+username, Sk=timestamp).
type BalanceDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewBalanceDAO(store *kvstore.Store, tables Tables) *BalanceDAO {
	return &BalanceDAO{store: store, tables: tables}
}

// GetBalance returns the user's cash position or NotFound.
func (d *BalanceDAO) GetBalance(ctx context.Context, username string) (*models.Balance, error) {
	item, err := d.store.Get(ctx, d.tables.Users, username, models.SkBalance)
	if err != nil {
		return nil, err
	}
	var balance models.Balance
	if err := kvstore.UnmarshalItem(item, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// CreateBalance inserts the balance row. Called exactly once, during
// registration, in the same logical transaction as the user row.
func (d *BalanceDAO) CreateBalance(ctx context.Context, balance models.Balance) (*models.Balance, error) {
	if balance.CurrentBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance cannot be negative", apperrors.ErrValidation)
	}
	now := nowUTC()
	balance.CreatedAt = now
	balance.UpdatedAt = now
	balance.CurrentBalance = models.Fiat(balance.CurrentBalance)

	item, err := kvstore.MarshalItem(balance)
	if err != nil {
		return nil, err
	}
	err = d.store.Put(ctx, d.tables.Users, balance.Username, models.SkBalance, item, kvstore.NotExists())
	if err != nil {
		if errors.Is(err, apperrors.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: balance for %s", apperrors.ErrAlreadyExists, balance.Username)
		}
		return nil, err
	}
	return &balance, nil
}

// UpdateBalance writes current_balance and updated_at. No amount check
// here: the caller holds the user lock and enforces preconditions.
func (d *BalanceDAO) UpdateBalance(ctx context.Context, username string, newAmount decimal.Decimal) (*models.Balance, error) {
	item, err := d.store.Update(ctx, d.tables.Users, username, models.SkBalance, map[string]any{
		"current_balance": models.Fiat(newAmount).String(),
		"updated_at":      nowUTC(),
	}, nil)
	if err != nil {
		return nil, err
	}
	var balance models.Balance
	if err := kvstore.UnmarshalItem(item, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// CreateTransaction appends one ledger row. The sort key is the creation
// timestamp; when two rows land on the same nanosecond the put condition
// fails and a UUID suffix disambiguates the retry.
func (d *BalanceDAO) CreateTransaction(ctx context.Context, tx models.BalanceTransaction) (*models.BalanceTransaction, error) {
	if tx.Username == "" {
		return nil, fmt.Errorf("%w: ledger row requires a username", apperrors.ErrValidation)
	}
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = nowUTC()
	}
	tx.Amount = models.Fiat(tx.Amount)

	item, err := kvstore.MarshalItem(tx)
	if err != nil {
		return nil, err
	}

	pk := models.LedgerPk(tx.Username)
	sk := ledgerSk(tx.CreatedAt)
	err = d.store.Put(ctx, d.tables.Users, pk, sk, item, kvstore.NotExists())
	if errors.Is(err, apperrors.ErrConditionFailed) {
		sk = sk + "#" + uuid.New().String()
		err = d.store.Put(ctx, d.tables.Users, pk, sk, item, kvstore.NotExists())
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("Ledger row created",
		zap.String("username", tx.Username),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("type", tx.Type),
		zap.String("amount", tx.Amount.String()))
	return &tx, nil
}

// ApplyTransaction folds a signed ledger amount into the balance row:
// read, add, write back. The caller holds the user lock; this is the
// second half of the two-step ledger-then-apply policy.
func (d *BalanceDAO) ApplyTransaction(ctx context.Context, tx models.BalanceTransaction) (*models.Balance, error) {
	balance, err := d.GetBalance(ctx, tx.Username)
	if err != nil {
		return nil, err
	}
	newAmount := balance.CurrentBalance.Add(tx.Amount)
	if newAmount.IsNegative() {
		return nil, fmt.Errorf("%w: applying %s would leave balance %s",
			apperrors.ErrInvariantViolation, tx.Amount.String(), newAmount.String())
	}
	updated, err := d.UpdateBalance(ctx, tx.Username, newAmount)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Balance updated",
		zap.String("username", tx.Username),
		zap.String("old_balance", balance.CurrentBalance.String()),
		zap.String("new_balance", updated.CurrentBalance.String()),
		zap.String("transaction_id", tx.TransactionID))
	return updated, nil
}

// ListTransactions returns ledger rows newest first. The cursor is the
// sort key of the last row of the previous page; an empty next cursor
// means the listing is exhausted.
func (d *BalanceDAO) ListTransactions(ctx context.Context, username string, limit int, cursor string) ([]models.BalanceTransaction, string, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:      d.tables.Users,
		Pk:         models.LedgerPk(username),
		SkBefore:   cursor,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return nil, "", err
	}

	txs := make([]models.BalanceTransaction, 0, len(items))
	for _, item := range items {
		var tx models.BalanceTransaction
		if err := kvstore.UnmarshalItem(item, &tx); err != nil {
			return nil, "", err
		}
		txs = append(txs, tx)
	}

	next := ""
	if len(items) == limit {
		next = items[len(items)-1].StringAttr(kvstore.AttrSk)
	}
	return txs, next, nil
}

// CleanupFailedTransaction best-effort deletes a ledger row whose apply
// step failed, so the ledger does not carry a dangling credit or debit.
func (d *BalanceDAO) CleanupFailedTransaction(ctx context.Context, username, transactionID string) error {
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:  d.tables.Users,
		Pk:     models.LedgerPk(username),
		Filter: map[string]string{"transaction_id": transactionID},
		Limit:  1,
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	sk := items[0].StringAttr(kvstore.AttrSk)
	if err := d.store.Delete(ctx, d.tables.Users, models.LedgerPk(username), sk, nil); err != nil {
		return err
	}
	zap.L().Warn("Cleaned up failed ledger row",
		zap.String("username", username),
		zap.String("transaction_id", transactionID))
	return nil
}
