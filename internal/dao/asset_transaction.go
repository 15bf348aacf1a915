package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// AssetTransactionDAO persists the append-only asset ledger
// (Pk="TRANS#"+username+"#"+asset_id, Sk=timestamp).
type AssetTransactionDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewAssetTransactionDAO(store *kvstore.Store, tables Tables) *AssetTransactionDAO {
	return &AssetTransactionDAO{store: store, tables: tables}
}

// Create appends one asset ledger row referencing an existing order.
func (d *AssetTransactionDAO) Create(ctx context.Context, tx models.AssetTransaction) (*models.AssetTransaction, error) {
	if tx.Username == "" || tx.AssetID == "" || tx.OrderID == "" {
		return nil, fmt.Errorf("%w: asset ledger row requires username, asset_id and order_id", apperrors.ErrValidation)
	}
	if tx.Type != models.AssetTxBuy && tx.Type != models.AssetTxSell {
		return nil, fmt.Errorf("%w: unknown asset transaction type %q", apperrors.ErrValidation, tx.Type)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = nowUTC()
	}
	tx.Quantity = models.Quantity(tx.Quantity)
	tx.Price = models.Fiat(tx.Price)
	tx.TotalAmount = models.Fiat(tx.TotalAmount)

	item, err := kvstore.MarshalItem(tx)
	if err != nil {
		return nil, err
	}

	pk := models.AssetLedgerPk(tx.Username, tx.AssetID)
	sk := ledgerSk(tx.CreatedAt)
	err = d.store.Put(ctx, d.tables.Users, pk, sk, item, kvstore.NotExists())
	if errors.Is(err, apperrors.ErrConditionFailed) {
		sk = sk + "#" + uuid.New().String()
		err = d.store.Put(ctx, d.tables.Users, pk, sk, item, kvstore.NotExists())
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("Asset ledger row created",
		zap.String("username", tx.Username),
		zap.String("asset_id", tx.AssetID),
		zap.String("type", tx.Type),
		zap.String("quantity", tx.Quantity.String()),
		zap.String("order_id", tx.OrderID))
	return &tx, nil
}

// ListByUserAndAsset returns the asset ledger newest first.
func (d *AssetTransactionDAO) ListByUserAndAsset(ctx context.Context, username, assetID string, limit int) ([]models.AssetTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:      d.tables.Users,
		Pk:         models.AssetLedgerPk(username, assetID),
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	txs := make([]models.AssetTransaction, 0, len(items))
	for _, item := range items {
		var tx models.AssetTransaction
		if err := kvstore.UnmarshalItem(item, &tx); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
