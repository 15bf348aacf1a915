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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cnop-core/internal/models"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

// Load reads the configuration from the environment. The process must not
// start on an invalid configuration; callers exit non-zero on error.
func Load() (*models.Config, error) {
	environment := getEnvString("ENVIRONMENT", envDev)
	if environment != envDev && environment != envProd {
		return nil, fmt.Errorf("invalid ENVIRONMENT %q, want dev or prod", environment)
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := getEnvDuration("JWT_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		if environment == envProd {
			return nil, fmt.Errorf("JWT_SECRET_KEY is required when ENVIRONMENT=prod")
		}
		jwtSecret = "dev-only-secret-do-not-use-in-prod"
	}

	lockTTLs, err := loadLockTTLs()
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Environment: environment,
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "cnop.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			MaxRetries:      getEnvInt("DB_MAX_RETRIES", 3),
		},
		Tables: models.TableConfig{
			Users:     getEnvString("USERS_TABLE", "users"),
			Orders:    getEnvString("ORDERS_TABLE", "orders"),
			Inventory: getEnvString("INVENTORY_TABLE", "inventory"),
		},
		Auth: models.AuthConfig{
			JWTSecret:  jwtSecret,
			TokenTTL:   tokenTTL,
			BcryptCost: getEnvInt("BCRYPT_COST", 0),
		},
		HTTP: models.HTTPConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
		Lock: lockTTLs,
	}, nil
}

func loadLockTTLs() (models.LockConfig, error) {
	deposit, err := getEnvDuration("LOCK_TTL_DEPOSIT", 2*time.Second)
	if err != nil {
		return models.LockConfig{}, err
	}
	withdraw, err := getEnvDuration("LOCK_TTL_WITHDRAW", 2*time.Second)
	if err != nil {
		return models.LockConfig{}, err
	}
	buyOrder, err := getEnvDuration("LOCK_TTL_BUY_ORDER", 5*time.Second)
	if err != nil {
		return models.LockConfig{}, err
	}
	sellOrder, err := getEnvDuration("LOCK_TTL_SELL_ORDER", 5*time.Second)
	if err != nil {
		return models.LockConfig{}, err
	}
	getBalance, err := getEnvDuration("LOCK_TTL_GET_BALANCE", time.Second)
	if err != nil {
		return models.LockConfig{}, err
	}
	return models.LockConfig{
		Deposit:    deposit,
		Withdraw:   withdraw,
		BuyOrder:   buyOrder,
		SellOrder:  sellOrder,
		GetBalance: getBalance,
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
