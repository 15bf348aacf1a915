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

// Package lock implements the distributed per-user mutex that serializes
// balance- and order-affecting operations. The lock is a single TTL'd row
// per user (Pk="USER#"+username, Sk="LOCK") written with a conditional
// put, so concurrent acquirers race on the store's per-row atomicity and
// exactly one wins. The lock is advisory: every mutation path must go
// through it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// Operation names with their default TTLs. TTLs exceed the expected p99
// critical-section duration while bounding unavailability after a crashed
// holder.
const (
	OpDeposit    = "deposit"
	OpWithdraw   = "withdraw"
	OpBuyOrder   = "buy_order"
	OpSellOrder  = "sell_order"
	OpGetBalance = "get_balance"
)

// DefaultTTLs returns the standard per-operation lock lifetimes.
func DefaultTTLs() models.LockConfig {
	return models.LockConfig{
		Deposit:    2 * time.Second,
		Withdraw:   2 * time.Second,
		BuyOrder:   5 * time.Second,
		SellOrder:  5 * time.Second,
		GetBalance: 1 * time.Second,
	}
}

// Manager acquires and releases user locks against the users table.
type Manager struct {
	store *kvstore.Store
	table string
	ttls  models.LockConfig
}

func NewManager(store *kvstore.Store, usersTable string, ttls models.LockConfig) *Manager {
	zero := models.LockConfig{}
	if ttls == zero {
		ttls = DefaultTTLs()
	}
	return &Manager{store: store, table: usersTable, ttls: ttls}
}

// TTLFor returns the lock lifetime for an operation name.
func (m *Manager) TTLFor(operation string) time.Duration {
	switch operation {
	case OpDeposit:
		return m.ttls.Deposit
	case OpWithdraw:
		return m.ttls.Withdraw
	case OpBuyOrder:
		return m.ttls.BuyOrder
	case OpSellOrder:
		return m.ttls.SellOrder
	case OpGetBalance:
		return m.ttls.GetBalance
	default:
		return 2 * time.Second
	}
}

// Acquire takes the user's lock for one operation. A single conditional
// put expresses "no lock row, or the existing one has expired"; losing
// the race surfaces as LockAcquireFailed, which the caller may retry
// after a backoff.
func (m *Manager) Acquire(ctx context.Context, username, operation string) (string, error) {
	now := time.Now().UTC()
	ttl := m.TTLFor(operation)
	l := models.UserLock{
		Username:  username,
		LockID:    uuid.New().String(),
		Operation: operation,
		ExpiresAt: now.Add(ttl),
		RequestID: requestIDFrom(ctx),
		CreatedAt: now,
	}

	item, err := kvstore.MarshalItem(l)
	if err != nil {
		return "", err
	}
	// Fixed-width timestamp so the expiry condition compares correctly.
	item["expires_at"] = l.ExpiresAt.Format(kvstore.TimeSortFormat)

	cond := kvstore.Or(
		kvstore.NotExists(),
		kvstore.AttributeLTE("expires_at", now.Format(kvstore.TimeSortFormat)),
	)
	err = m.store.Put(ctx, m.table, models.LockPk(username), models.SkLock, item, cond)
	if err != nil {
		if errors.Is(err, apperrors.ErrConditionFailed) {
			zap.L().Info("Lock busy",
				zap.String("username", username),
				zap.String("operation", operation))
			return "", fmt.Errorf("%w: user %s is locked", apperrors.ErrLockAcquireFailed, username)
		}
		return "", err
	}

	zap.L().Debug("Lock acquired",
		zap.String("username", username),
		zap.String("operation", operation),
		zap.String("lock_id", l.LockID),
		zap.Duration("ttl", ttl))
	return l.LockID, nil
}

// Release deletes the lock row if it still carries the caller's token.
// Returning false means the lock was already released, expired or
// reassigned; that is not an error.
func (m *Manager) Release(ctx context.Context, username, token string) (bool, error) {
	err := m.store.Delete(ctx, m.table, models.LockPk(username), models.SkLock,
		kvstore.AttributeEquals("lock_id", token))
	if err != nil {
		if errors.Is(err, apperrors.ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	zap.L().Debug("Lock released",
		zap.String("username", username),
		zap.String("lock_id", token))
	return true, nil
}

// WithLock runs fn with the user's lock held and guarantees release on
// every exit path, including panics. The release uses a context detached
// from the caller's cancellation so an aborted request does not leak the
// lock until TTL expiry.
func (m *Manager) WithLock(ctx context.Context, username, operation string, fn func(ctx context.Context) error) error {
	token, err := m.Acquire(ctx, username, operation)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		released, rerr := m.Release(releaseCtx, username, token)
		if rerr != nil {
			zap.L().Error("Lock release failed",
				zap.String("username", username),
				zap.String("operation", operation),
				zap.Error(rerr))
		} else if !released {
			zap.L().Warn("Lock was no longer held at release",
				zap.String("username", username),
				zap.String("operation", operation))
		}
	}()
	return fn(ctx)
}

type requestIDKey struct{}

// WithRequestID attaches the gateway request id to a context for log
// correlation and lock attribution.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
