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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// AssetBalanceDAO persists per-(user, asset) holdings
// (Pk=username, Sk="ASSET#"+asset_id) in the users table.
type AssetBalanceDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewAssetBalanceDAO(store *kvstore.Store, tables Tables) *AssetBalanceDAO {
	return &AssetBalanceDAO{store: store, tables: tables}
}

// Upsert adds delta to the holding, creating the row when absent. The
// caller holds the user lock; the quantity floor is still guarded here so
// a buggy caller cannot drive a holding negative.
func (d *AssetBalanceDAO) Upsert(ctx context.Context, username, assetID string, delta decimal.Decimal) (*models.AssetBalance, error) {
	sk := models.AssetBalanceSk(assetID)
	now := nowUTC()

	existing, err := d.Get(ctx, username, assetID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		if delta.IsNegative() {
			return nil, fmt.Errorf("%w: cannot create %s holding with negative quantity %s",
				apperrors.ErrInvariantViolation, assetID, delta.String())
		}
		balance := models.AssetBalance{
			Username:  username,
			AssetID:   assetID,
			Quantity:  models.Quantity(delta),
			CreatedAt: now,
			UpdatedAt: now,
		}
		item, err := kvstore.MarshalItem(balance)
		if err != nil {
			return nil, err
		}
		if err := d.store.Put(ctx, d.tables.Users, username, sk, item, kvstore.NotExists()); err != nil {
			return nil, err
		}
		return &balance, nil
	}

	newQuantity := existing.Quantity.Add(delta)
	if newQuantity.IsNegative() {
		return nil, fmt.Errorf("%w: %s holding would go negative (%s)",
			apperrors.ErrInvariantViolation, assetID, newQuantity.String())
	}

	item, err := d.store.Update(ctx, d.tables.Users, username, sk, map[string]any{
		"quantity":   models.Quantity(newQuantity).String(),
		"updated_at": now,
	}, nil)
	if err != nil {
		return nil, err
	}
	var updated models.AssetBalance
	if err := kvstore.UnmarshalItem(item, &updated); err != nil {
		return nil, err
	}
	zap.L().Info("Asset holding updated",
		zap.String("username", username),
		zap.String("asset_id", assetID),
		zap.String("delta", delta.String()),
		zap.String("quantity", updated.Quantity.String()))
	return &updated, nil
}

// Get returns the holding or NotFound.
func (d *AssetBalanceDAO) Get(ctx context.Context, username, assetID string) (*models.AssetBalance, error) {
	item, err := d.store.Get(ctx, d.tables.Users, username, models.AssetBalanceSk(assetID))
	if err != nil {
		return nil, err
	}
	var balance models.AssetBalance
	if err := kvstore.UnmarshalItem(item, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetAll returns every holding the user has ever had, including zero rows.
func (d *AssetBalanceDAO) GetAll(ctx context.Context, username string) ([]models.AssetBalance, error) {
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:    d.tables.Users,
		Pk:       username,
		SkPrefix: models.SkPrefixAsset,
	})
	if err != nil {
		return nil, err
	}
	balances := make([]models.AssetBalance, 0, len(items))
	for _, item := range items {
		var balance models.AssetBalance
		if err := kvstore.UnmarshalItem(item, &balance); err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	return balances, nil
}
