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

// Package common wires the process-level singletons: the global logger,
// the store and the DAO/lock/manager graph shared by every entry point.
package common

import (
	"context"
	"errors"
	"log"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cnop-core/internal/auth"
	"cnop-core/internal/dao"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/lock"
	"cnop-core/internal/models"
	"cnop-core/internal/transaction"
)

// init loads environment variables from a .env file when one exists.
// Environment variables set via other means (shell export, container env)
// take precedence anyway.
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: no .env file loaded: %v\n", err)
	}
}

// Services is the wired object graph shared by every entry point.
type Services struct {
	Store    *kvstore.Store
	Users    *dao.UserDAO
	Balances *dao.BalanceDAO
	Orders   *dao.OrderDAO
	Holdings *dao.AssetBalanceDAO
	AssetTxs *dao.AssetTransactionDAO
	Assets   *dao.AssetDAO
	Locks    *lock.Manager
	Manager  *transaction.Manager
	Tokens   *auth.TokenService
}

// InitializeLogger installs the global production logger and returns a
// cleanup that flushes buffered entries.
func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// isIgnorableSyncError filters the expected Sync failures when stderr is a
// terminal or pipe.
func isIgnorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.EBADF)
}

// InitializeServices opens the store and wires DAOs, lock manager and
// transaction manager.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	tables := dao.TablesFromConfig(cfg.Tables)

	store, err := kvstore.NewStore(ctx, cfg.Database, dao.TableSpecs(tables)...)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		store.Close()
		return nil, err
	}

	users := dao.NewUserDAO(store, tables)
	balances := dao.NewBalanceDAO(store, tables)
	orders := dao.NewOrderDAO(store, tables)
	holdings := dao.NewAssetBalanceDAO(store, tables)
	assetTxs := dao.NewAssetTransactionDAO(store, tables)
	assets := dao.NewAssetDAO(store, tables)
	locks := lock.NewManager(store, tables.Users, cfg.Lock)

	manager := transaction.NewManager(transaction.Deps{
		Users:      users,
		Balances:   balances,
		Orders:     orders,
		Holdings:   holdings,
		AssetTxs:   assetTxs,
		Assets:     assets,
		Locks:      locks,
		BcryptCost: cfg.Auth.BcryptCost,
	})

	zap.L().Info("Services initialized",
		zap.String("environment", cfg.Environment),
		zap.String("users_table", tables.Users),
		zap.String("orders_table", tables.Orders),
		zap.String("inventory_table", tables.Inventory))

	return &Services{
		Store:    store,
		Users:    users,
		Balances: balances,
		Orders:   orders,
		Holdings: holdings,
		AssetTxs: assetTxs,
		Assets:   assets,
		Locks:    locks,
		Manager:  manager,
		Tokens:   tokens,
	}, nil
}

// Close releases the store connection pool.
func (s *Services) Close() {
	if s.Store != nil {
		s.Store.Close()
	}
}
