package dao

import (
	"context"

	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// SkAsset is the fixed sort key for inventory rows; the inventory table is
// keyed by asset_id alone.
const SkAsset = "ASSET"

// AssetDAO reads the inventory table. The core never writes inventory;
// Put exists for the seeding tool and the inventory collaborator.
type AssetDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewAssetDAO(store *kvstore.Store, tables Tables) *AssetDAO {
	return &AssetDAO{store: store, tables: tables}
}

// Get returns the asset or NotFound.
func (d *AssetDAO) Get(ctx context.Context, assetID string) (*models.Asset, error) {
	item, err := d.store.Get(ctx, d.tables.Inventory, assetID, SkAsset)
	if err != nil {
		return nil, err
	}
	var asset models.Asset
	if err := kvstore.UnmarshalItem(item, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetByIDs batch-resolves assets; unknown ids are omitted from the map.
func (d *AssetDAO) GetByIDs(ctx context.Context, assetIDs []string) (map[string]models.Asset, error) {
	keys := make([]kvstore.Key, len(assetIDs))
	for i, id := range assetIDs {
		keys[i] = kvstore.Key{Pk: id, Sk: SkAsset}
	}
	items, err := d.store.BatchGet(ctx, d.tables.Inventory, keys)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]models.Asset, len(items))
	for _, item := range items {
		var asset models.Asset
		if err := kvstore.UnmarshalItem(item, &asset); err != nil {
			return nil, err
		}
		assets[asset.AssetID] = asset
	}
	return assets, nil
}

// GetAll lists the inventory, optionally only active assets.
func (d *AssetDAO) GetAll(ctx context.Context, activeOnly bool) ([]models.Asset, error) {
	items, err := d.store.Scan(ctx, d.tables.Inventory, 0)
	if err != nil {
		return nil, err
	}
	assets := make([]models.Asset, 0, len(items))
	for _, item := range items {
		var asset models.Asset
		if err := kvstore.UnmarshalItem(item, &asset); err != nil {
			return nil, err
		}
		if activeOnly && !asset.IsActive {
			continue
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// Put upserts an inventory row. An asset priced at zero is forced
// inactive.
func (d *AssetDAO) Put(ctx context.Context, asset models.Asset) error {
	if asset.PriceUSD.IsZero() {
		asset.IsActive = false
	}
	asset.UpdatedAt = nowUTC()
	item, err := kvstore.MarshalItem(asset)
	if err != nil {
		return err
	}
	return d.store.Put(ctx, d.tables.Inventory, asset.AssetID, SkAsset, item, nil)
}
