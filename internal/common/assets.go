package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"cnop-core/internal/models"
)

type AssetConfig struct {
	AssetID  string `yaml:"asset_id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	PriceUSD string `yaml:"price_usd"`
	Amount   string `yaml:"amount"`
	Active   *bool  `yaml:"active"`
}

type AssetsConfig struct {
	Assets []AssetConfig `yaml:"assets"`
}

// LoadAssetConfig reads the inventory catalog file used by the seed
// command. Prices and amounts travel as strings so the file never goes
// through floats.
func LoadAssetConfig(assetsFile string) ([]AssetConfig, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	var config AssetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}

	for i, asset := range config.Assets {
		if asset.AssetID == "" {
			return nil, fmt.Errorf("asset at index %d missing asset_id", i)
		}
		if asset.Name == "" {
			return nil, fmt.Errorf("asset at index %d missing name", i)
		}
	}

	return config.Assets, nil
}

// ToModel converts the catalog entry into the stored asset shape.
func (c AssetConfig) ToModel() (models.Asset, error) {
	price := decimal.Zero
	if c.PriceUSD != "" {
		parsed, err := decimal.NewFromString(c.PriceUSD)
		if err != nil {
			return models.Asset{}, fmt.Errorf("asset %s: invalid price_usd %q: %w", c.AssetID, c.PriceUSD, err)
		}
		price = parsed
	}

	amount := decimal.Zero
	if c.Amount != "" {
		parsed, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return models.Asset{}, fmt.Errorf("asset %s: invalid amount %q: %w", c.AssetID, c.Amount, err)
		}
		amount = parsed
	}

	active := true
	if c.Active != nil {
		active = *c.Active
	}

	return models.Asset{
		AssetID:  c.AssetID,
		Name:     c.Name,
		Category: c.Category,
		PriceUSD: price,
		Amount:   amount,
		IsActive: active,
	}, nil
}
