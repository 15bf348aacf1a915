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
	"cnop-core/internal/lock"
	"cnop-core/internal/models"
)

const opCancelOrder = "cancel_order"

// BuyOrder executes a market buy: debit cash, credit the asset holding,
// ledger both legs. Market orders complete immediately; the COMPLETED
// status stands for the collapsed PENDING -> PROCESSING -> COMPLETED path.
//
// Failure policy, step by step:
//   - order create fails: abort, nothing to undo
//   - payment leg fails: order marked FAILED, ledger row compensated
//   - asset leg fails: cash refunded, order marked FAILED
//   - asset ledger write fails: log only; holdings and cash are already
//     correct and reconciliation picks up the gap
func (m *Manager) BuyOrder(ctx context.Context, username, assetID string, quantity, price decimal.Decimal, orderType string) (*models.TransactionResult, error) {
	if err := validateOrderInput(quantity, price); err != nil {
		return nil, err
	}
	asset, err := m.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.Tradable() {
		return nil, fmt.Errorf("%w: asset %s is not tradable", apperrors.ErrValidation, assetID)
	}
	if orderType == "" {
		orderType = models.OrderTypeMarketBuy
	}

	quantity = models.Quantity(quantity)
	price = models.Fiat(price)
	totalCost := models.Fiat(quantity.Mul(price))

	var result *models.TransactionResult
	err = m.locks.WithLock(ctx, username, lock.OpBuyOrder, func(ctx context.Context) error {
		// Step 1: re-read the balance under the lock.
		balance, err := m.balances.GetBalance(ctx, username)
		if err != nil {
			return err
		}
		if balance.CurrentBalance.LessThan(totalCost) {
			return fmt.Errorf("%w: balance %s, order total %s",
				apperrors.ErrInsufficientBalance, balance.CurrentBalance.String(), totalCost.String())
		}

		// Step 2: record the order.
		order, err := m.orders.Create(ctx, models.Order{
			Username:    username,
			OrderType:   orderType,
			Status:      models.OrderCompleted,
			AssetID:     assetID,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: totalCost,
		})
		if err != nil {
			return err
		}

		// Step 3: debit the cash leg.
		payment, err := m.applyCashTransaction(ctx, username, models.BalanceTransaction{
			Username:    username,
			Type:        models.TxOrderPayment,
			Amount:      totalCost.Neg(),
			Description: fmt.Sprintf("Payment for %s %s", quantity.String(), assetID),
			Status:      models.TxStatusCompleted,
			ReferenceID: order.OrderID,
		})
		if err != nil {
			m.markOrderFailed(ctx, order.OrderID, "payment leg failed")
			return err
		}

		// Step 4: credit the holding.
		holding, err := m.holdings.Upsert(ctx, username, assetID, quantity)
		if err != nil {
			m.refund(ctx, username, totalCost, order.OrderID)
			m.markOrderFailed(ctx, order.OrderID, "asset leg failed")
			return err
		}

		// Step 5: asset ledger row; log-only on failure.
		if _, err := m.assetTxs.Create(ctx, models.AssetTransaction{
			Username:    username,
			AssetID:     assetID,
			Type:        models.AssetTxBuy,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: totalCost,
			OrderID:     order.OrderID,
		}); err != nil {
			zap.L().Error("CRITICAL: asset ledger write failed after completed buy, reconciliation required",
				zap.String("username", username),
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}

		result = payment
		result.AssetID = assetID
		result.AssetQuantity = &quantity
		result.AssetBalance = &holding.Quantity
		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SellOrder executes a market sell: debit the asset holding, credit cash,
// ledger both legs. Compensation mirrors BuyOrder with the legs reversed.
func (m *Manager) SellOrder(ctx context.Context, username, assetID string, quantity, price decimal.Decimal, orderType string) (*models.TransactionResult, error) {
	if err := validateOrderInput(quantity, price); err != nil {
		return nil, err
	}
	if _, err := m.assets.Get(ctx, assetID); err != nil {
		return nil, err
	}
	if orderType == "" {
		orderType = models.OrderTypeMarketSell
	}

	quantity = models.Quantity(quantity)
	price = models.Fiat(price)
	proceeds := models.Fiat(quantity.Mul(price))

	var result *models.TransactionResult
	err := m.locks.WithLock(ctx, username, lock.OpSellOrder, func(ctx context.Context) error {
		// Step 1: verify the holding under the lock.
		holding, err := m.holdings.Get(ctx, username, assetID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return fmt.Errorf("%w: no %s holding", apperrors.ErrInsufficientAssetBalance, assetID)
			}
			return err
		}
		if holding.Quantity.LessThan(quantity) {
			return fmt.Errorf("%w: holding %s, order quantity %s",
				apperrors.ErrInsufficientAssetBalance, holding.Quantity.String(), quantity.String())
		}

		// Step 2: record the order.
		order, err := m.orders.Create(ctx, models.Order{
			Username:    username,
			OrderType:   orderType,
			Status:      models.OrderCompleted,
			AssetID:     assetID,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: proceeds,
		})
		if err != nil {
			return err
		}

		// Step 3: debit the holding.
		updated, err := m.holdings.Upsert(ctx, username, assetID, quantity.Neg())
		if err != nil {
			m.markOrderFailed(ctx, order.OrderID, "asset leg failed")
			return err
		}

		// Step 4: credit the proceeds.
		sale, err := m.applyCashTransaction(ctx, username, models.BalanceTransaction{
			Username:    username,
			Type:        models.TxOrderSale,
			Amount:      proceeds,
			Description: fmt.Sprintf("Proceeds of %s %s", quantity.String(), assetID),
			Status:      models.TxStatusCompleted,
			ReferenceID: order.OrderID,
		})
		if err != nil {
			m.restoreHolding(ctx, username, assetID, quantity, order.OrderID)
			m.markOrderFailed(ctx, order.OrderID, "cash leg failed")
			return err
		}

		// Step 5: asset ledger row; log-only on failure.
		if _, err := m.assetTxs.Create(ctx, models.AssetTransaction{
			Username:    username,
			AssetID:     assetID,
			Type:        models.AssetTxSell,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: proceeds,
			OrderID:     order.OrderID,
		}); err != nil {
			zap.L().Error("CRITICAL: asset ledger write failed after completed sell, reconciliation required",
				zap.String("username", username),
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}

		result = sale
		result.AssetID = assetID
		result.AssetQuantity = &quantity
		result.AssetBalance = &updated.Quantity
		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelOrder cancels a user's own order when its state permits. FAILED
// and EXPIRED are system-only transitions and never reachable here.
func (m *Manager) CancelOrder(ctx context.Context, username, orderID string) (*models.Order, error) {
	var cancelled *models.Order
	err := m.locks.WithLock(ctx, username, opCancelOrder, func(ctx context.Context) error {
		order, err := m.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Username != username {
			return fmt.Errorf("%w: order %s belongs to another user", apperrors.ErrAccessDenied, orderID)
		}
		if !order.Status.UserCancellable() {
			return fmt.Errorf("%w: order in state %s cannot be cancelled", apperrors.ErrValidation, order.Status)
		}
		if !order.Status.CanTransitionTo(models.OrderCancelled) {
			return fmt.Errorf("%w: transition %s -> CANCELLED not permitted", apperrors.ErrInvariantViolation, order.Status)
		}
		cancelled, err = m.orders.UpdateStatus(ctx, orderID, models.OrderCancelled, "cancelled by user")
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// GetOrder returns one order, enforcing ownership.
func (m *Manager) GetOrder(ctx context.Context, username, orderID string) (*models.Order, error) {
	order, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Username != username {
		return nil, fmt.Errorf("%w: order %s belongs to another user", apperrors.ErrAccessDenied, orderID)
	}
	return order, nil
}

// ListOrders pages a user's order history, optionally narrowed to one
// asset.
func (m *Manager) ListOrders(ctx context.Context, username, assetID string, limit, offset int) ([]models.Order, error) {
	if assetID != "" {
		return m.orders.ListByUserAndAsset(ctx, username, assetID, limit, offset)
	}
	return m.orders.ListByUser(ctx, username, limit, offset)
}

func validateOrderInput(quantity, price decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: order quantity must be positive", apperrors.ErrValidation)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: order price must be positive", apperrors.ErrValidation)
	}
	return nil
}

// markOrderFailed is a system transition; its own failure is logged and
// swallowed so the original error reaches the caller.
func (m *Manager) markOrderFailed(ctx context.Context, orderID, reason string) {
	if _, err := m.orders.UpdateStatus(ctx, orderID, models.OrderFailed, reason); err != nil {
		zap.L().Error("CRITICAL: could not mark order FAILED",
			zap.String("order_id", orderID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// refund compensates a debited buy whose asset leg failed. Compensation
// errors never surface; they are flagged as financial discrepancies.
func (m *Manager) refund(ctx context.Context, username string, amount decimal.Decimal, orderID string) {
	_, err := m.applyCashTransaction(ctx, username, models.BalanceTransaction{
		Username:    username,
		Type:        models.TxRefund,
		Amount:      amount,
		Description: "Refund of failed buy order",
		Status:      models.TxStatusCompleted,
		ReferenceID: orderID,
	})
	if err != nil {
		zap.L().Error("CRITICAL: refund failed, financial discrepancy",
			zap.String("username", username),
			zap.String("order_id", orderID),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return
	}
	zap.L().Warn("Refunded failed buy order",
		zap.String("username", username),
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()))
}

// restoreHolding re-credits an asset debit whose cash leg failed.
func (m *Manager) restoreHolding(ctx context.Context, username, assetID string, quantity decimal.Decimal, orderID string) {
	if _, err := m.holdings.Upsert(ctx, username, assetID, quantity); err != nil {
		zap.L().Error("CRITICAL: holding restore failed, financial discrepancy",
			zap.String("username", username),
			zap.String("asset_id", assetID),
			zap.String("order_id", orderID),
			zap.String("quantity", quantity.String()),
			zap.Error(err))
		return
	}
	zap.L().Warn("Restored holding after failed sell order",
		zap.String("username", username),
		zap.String("asset_id", assetID),
		zap.String("order_id", orderID))
}
