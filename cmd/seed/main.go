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

package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"cnop-core/internal/common"
	"cnop-core/internal/config"
)

// Seeds the inventory table from a catalog file. Existing assets are
// overwritten so repeated runs converge on the file's contents.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	assetsFile := flag.String("assets", "assets.yaml", "Path to the inventory catalog file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	assetConfigs, err := common.LoadAssetConfig(*assetsFile)
	if err != nil {
		logger.Fatal("Failed to load asset catalog", zap.String("file", *assetsFile), zap.Error(err))
	}

	seeded := 0
	for _, assetConfig := range assetConfigs {
		asset, err := assetConfig.ToModel()
		if err != nil {
			logger.Error("Skipping invalid asset", zap.Error(err))
			continue
		}

		if err := services.Assets.Put(ctx, asset); err != nil {
			logger.Error("Failed to seed asset",
				zap.String("asset_id", asset.AssetID),
				zap.Error(err))
			continue
		}

		logger.Info("Seeded asset",
			zap.String("asset_id", asset.AssetID),
			zap.String("name", asset.Name),
			zap.String("price_usd", asset.PriceUSD.String()),
			zap.Bool("active", asset.IsActive))
		seeded++
	}

	logger.Info("Inventory seed complete",
		zap.Int("seeded", seeded),
		zap.Int("total", len(assetConfigs)))
}
