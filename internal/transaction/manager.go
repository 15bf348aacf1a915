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

package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/auth"
	"cnop-core/internal/lock"
	"cnop-core/internal/models"
)

const statusSuccess = "success"

// Manager orchestrates deposit, withdraw, buy and sell as ordered
// sequences of store calls under the user's lock, with compensating
// cleanup on partial failure.
type Manager struct {
	users      UserStore
	balances   BalanceStore
	orders     OrderStore
	holdings   AssetBalanceStore
	assetTxs   AssetTransactionStore
	assets     AssetStore
	locks      Locker
	bcryptCost int
}

// Deps carries the manager's collaborators.
type Deps struct {
	Users      UserStore
	Balances   BalanceStore
	Orders     OrderStore
	Holdings   AssetBalanceStore
	AssetTxs   AssetTransactionStore
	Assets     AssetStore
	Locks      Locker
	BcryptCost int
}

func NewManager(d Deps) *Manager {
	return &Manager{
		users:      d.Users,
		balances:   d.Balances,
		orders:     d.Orders,
		holdings:   d.Holdings,
		assetTxs:   d.AssetTxs,
		assets:     d.Assets,
		locks:      d.Locks,
		bcryptCost: d.BcryptCost,
	}
}

// RegisterInput is the registration payload after transport validation.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Phone       string
	DateOfBirth string
}

// Register creates the user and its zero balance as one logical unit. A
// failed balance leg deletes the just-created user so registration never
// leaves a user without a balance row.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*models.User, *models.Balance, error) {
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, nil, err
	}
	hash, err := auth.HashPassword(in.Password, m.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}

	user, err := m.users.Create(ctx, models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		DateOfBirth:  in.DateOfBirth,
		Role:         models.RoleCustomer,
	})
	if err != nil {
		return nil, nil, err
	}

	balance, err := m.balances.CreateBalance(ctx, models.Balance{
		Username:       user.Username,
		CurrentBalance: decimal.Zero,
	})
	if err != nil {
		zap.L().Error("Balance creation failed during registration, removing user",
			zap.String("username", user.Username),
			zap.Error(err))
		if derr := m.users.Delete(ctx, user.Username); derr != nil {
			zap.L().Error("CRITICAL: could not remove user after failed balance creation",
				zap.String("username", user.Username),
				zap.Error(derr))
		}
		return nil, nil, fmt.Errorf("%w: registration could not complete", apperrors.ErrStoreUnavailable)
	}

	zap.L().Info("User registered",
		zap.String("username", user.Username))
	return user, balance, nil
}

// Deposit credits amount to the user's cash balance: one ledger row, then
// the balance fold. A failed fold compensates the ledger row so no
// dangling credit survives.
func (m *Manager) Deposit(ctx context.Context, username string, amount decimal.Decimal) (*models.TransactionResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", apperrors.ErrValidation)
	}

	var result *models.TransactionResult
	err := m.locks.WithLock(ctx, username, lock.OpDeposit, func(ctx context.Context) error {
		var err error
		result, err = m.applyCashTransaction(ctx, username, models.BalanceTransaction{
			Username:    username,
			Type:        models.TxDeposit,
			Amount:      models.Fiat(amount),
			Description: "Cash deposit",
			Status:      models.TxStatusCompleted,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw debits amount from the user's cash balance. The balance check
// runs inside the lock so check-then-act is sound.
func (m *Manager) Withdraw(ctx context.Context, username string, amount decimal.Decimal) (*models.TransactionResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", apperrors.ErrValidation)
	}

	var result *models.TransactionResult
	err := m.locks.WithLock(ctx, username, lock.OpWithdraw, func(ctx context.Context) error {
		balance, err := m.balances.GetBalance(ctx, username)
		if err != nil {
			return err
		}
		if balance.CurrentBalance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, requested %s",
				apperrors.ErrInsufficientBalance, balance.CurrentBalance.String(), amount.String())
		}

		result, err = m.applyCashTransaction(ctx, username, models.BalanceTransaction{
			Username:    username,
			Type:        models.TxWithdraw,
			Amount:      models.Fiat(amount).Neg(),
			Description: "Cash withdrawal",
			Status:      models.TxStatusCompleted,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyCashTransaction runs the two-step ledger-then-apply policy under
// the caller's lock and compensates the ledger row when the apply fails.
func (m *Manager) applyCashTransaction(ctx context.Context, username string, tx models.BalanceTransaction) (*models.TransactionResult, error) {
	created, err := m.balances.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	balance, err := m.balances.ApplyTransaction(ctx, *created)
	if err != nil {
		zap.L().Error("Balance apply failed, compensating ledger row",
			zap.String("username", username),
			zap.String("transaction_id", created.TransactionID),
			zap.Error(err))
		if cerr := m.balances.CleanupFailedTransaction(ctx, username, created.TransactionID); cerr != nil {
			zap.L().Error("CRITICAL: ledger cleanup failed, financial discrepancy possible",
				zap.String("username", username),
				zap.String("transaction_id", created.TransactionID),
				zap.Error(cerr))
		}
		if errors.Is(err, apperrors.ErrInvariantViolation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: balance update did not complete", apperrors.ErrStoreUnavailable)
	}

	zap.L().Info("Cash transaction completed",
		zap.String("username", username),
		zap.String("type", created.Type),
		zap.String("amount", created.Amount.String()),
		zap.String("new_balance", balance.CurrentBalance.String()))

	return &models.TransactionResult{
		Status:            statusSuccess,
		TransactionType:   created.Type,
		TransactionAmount: created.Amount,
		Balance:           balance.CurrentBalance,
		Transaction:       created,
	}, nil
}

// GetBalance reads the cash balance under the short read lock so it never
// observes a half-applied mutation.
func (m *Manager) GetBalance(ctx context.Context, username string) (*models.Balance, error) {
	var balance *models.Balance
	err := m.locks.WithLock(ctx, username, lock.OpGetBalance, func(ctx context.Context) error {
		var err error
		balance, err = m.balances.GetBalance(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Portfolio is the lock-free read view of a user's cash and holdings.
type Portfolio struct {
	Balance  models.Balance        `json:"balance"`
	Holdings []models.AssetBalance `json:"holdings"`
}

// GetPortfolio assembles the read view. It takes no lock; per-row strong
// consistency is enough for an analytical read.
func (m *Manager) GetPortfolio(ctx context.Context, username string) (*Portfolio, error) {
	balance, err := m.balances.GetBalance(ctx, username)
	if err != nil {
		return nil, err
	}
	holdings, err := m.holdings.GetAll(ctx, username)
	if err != nil {
		return nil, err
	}
	return &Portfolio{Balance: *balance, Holdings: holdings}, nil
}

// ListTransactions pages through the cash ledger, newest first.
func (m *Manager) ListTransactions(ctx context.Context, username string, limit int, cursor string) ([]models.BalanceTransaction, string, error) {
	return m.balances.ListTransactions(ctx, username, limit, cursor)
}
