package models

import "time"

// Config represents the application configuration.
type Config struct {
	Environment string
	Database    DatabaseConfig
	Tables      TableConfig
	Auth        AuthConfig
	HTTP        HTTPConfig
	Lock        LockConfig
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	MaxRetries      int
}

// TableConfig names the three logical tables.
type TableConfig struct {
	Users     string
	Orders    string
	Inventory string
}

// AuthConfig holds JWT settings. The secret is required outside dev.
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// HTTPConfig holds gateway settings.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// LockConfig holds per-operation lock TTLs. Values exceed the expected
// p99 critical-section duration while bounding unavailability after a
// crashed holder.
type LockConfig struct {
	Deposit    time.Duration
	Withdraw   time.Duration
	BuyOrder   time.Duration
	SellOrder  time.Duration
	GetBalance time.Duration
}
