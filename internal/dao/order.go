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
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// OrderDAO persists Order rows (Pk=order_id, Sk="ORDER") in the orders
// table. The UserOrdersIndex projects username for per-user listings,
// newest first.
type OrderDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewOrderDAO(store *kvstore.Store, tables Tables) *OrderDAO {
	return &OrderDAO{store: store, tables: tables}
}

// Create inserts a new order, assigning an id when absent.
func (d *OrderDAO) Create(ctx context.Context, order models.Order) (*models.Order, error) {
	if order.Username == "" || order.AssetID == "" {
		return nil, fmt.Errorf("%w: order requires username and asset_id", apperrors.ErrValidation)
	}
	if !order.Quantity.IsPositive() || !order.Price.IsPositive() {
		return nil, fmt.Errorf("%w: order quantity and price must be positive", apperrors.ErrValidation)
	}
	if order.OrderID == "" {
		order.OrderID = uuid.New().String()
	}
	now := nowUTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Quantity = models.Quantity(order.Quantity)
	order.Price = models.Fiat(order.Price)
	order.TotalAmount = models.Fiat(order.TotalAmount)

	item, err := kvstore.MarshalItem(order)
	if err != nil {
		return nil, err
	}
	// Fixed-width timestamp for the index range so listings order
	// chronologically.
	item["created_sort"] = ledgerSk(now)
	if err := d.store.Put(ctx, d.tables.Orders, order.OrderID, models.SkOrder, item, kvstore.NotExists()); err != nil {
		return nil, err
	}

	zap.L().Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("username", order.Username),
		zap.String("asset_id", order.AssetID),
		zap.String("order_type", order.OrderType),
		zap.String("status", string(order.Status)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("price", order.Price.String()))
	return &order, nil
}

// Get returns the order or NotFound.
func (d *OrderDAO) Get(ctx context.Context, orderID string) (*models.Order, error) {
	item, err := d.store.Get(ctx, d.tables.Orders, orderID, models.SkOrder)
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := kvstore.UnmarshalItem(item, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByUser returns the user's orders, newest first, via the GSI. Index
// reads are eventually consistent; a just-created order may trail.
func (d *OrderDAO) ListByUser(ctx context.Context, username string, limit, offset int) ([]models.Order, error) {
	return d.listByIndex(ctx, username, nil, limit, offset)
}

// ListByUserAndAsset narrows the listing to one asset.
func (d *OrderDAO) ListByUserAndAsset(ctx context.Context, username, assetID string, limit, offset int) ([]models.Order, error) {
	return d.listByIndex(ctx, username, map[string]string{"asset_id": assetID}, limit, offset)
}

func (d *OrderDAO) listByIndex(ctx context.Context, username string, filter map[string]string, limit, offset int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:      d.tables.Orders,
		Pk:         username,
		IndexName:  UserOrdersIndex,
		Filter:     filter,
		Limit:      limit,
		Offset:     offset,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(items))
	for _, item := range items {
		var order models.Order
		if err := kvstore.UnmarshalItem(item, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// UpdateStatus writes the new status blindly; the state-machine check is
// the transaction manager's job.
func (d *OrderDAO) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus, reason string) (*models.Order, error) {
	set := map[string]any{
		"status":     string(status),
		"updated_at": nowUTC(),
	}
	if reason != "" {
		set["status_reason"] = reason
	}
	item, err := d.store.Update(ctx, d.tables.Orders, orderID, models.SkOrder, set, nil)
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := kvstore.UnmarshalItem(item, &order); err != nil {
		return nil, err
	}
	zap.L().Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	return &order, nil
}
