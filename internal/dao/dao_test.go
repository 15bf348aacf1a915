package dao

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

type testDAOs struct {
	store    *kvstore.Store
	users    *UserDAO
	balances *BalanceDAO
	orders   *OrderDAO
	holdings *AssetBalanceDAO
	assetTxs *AssetTransactionDAO
	assets   *AssetDAO
}

func setupTestDAOs(t *testing.T) (*testDAOs, func()) {
	tables := Tables{Users: "users", Orders: "orders", Inventory: "inventory"}
	cfg := models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		MaxRetries:   2,
	}

	store, err := kvstore.NewStore(context.Background(), cfg, TableSpecs(tables)...)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	d := &testDAOs{
		store:    store,
		users:    NewUserDAO(store, tables),
		balances: NewBalanceDAO(store, tables),
		orders:   NewOrderDAO(store, tables),
		holdings: NewAssetBalanceDAO(store, tables),
		assetTxs: NewAssetTransactionDAO(store, tables),
		assets:   NewAssetDAO(store, tables),
	}

	cleanup := func() {
		store.Close()
	}

	return d, cleanup
}
