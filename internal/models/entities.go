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

// Package models holds the typed records persisted by the transactional
// core together with their key-derivation rules. All money amounts carry
// two fractional digits, all crypto quantities eight; every amount is a
// decimal serialized as a string so the store never sees a float.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sort-key constants and partition-key prefixes for the users table. A
// single wide-column table holds users, balances, locks, ledgers and asset
// positions, distinguished by these prefixes.
const (
	SkUser    = "USER"
	SkBalance = "BALANCE"
	SkLock    = "LOCK"
	SkOrder   = "ORDER"

	PkPrefixLock  = "USER#"
	PkPrefixTrans = "TRANS#"
	SkPrefixAsset = "ASSET#"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Fractional digit conventions.
const (
	FiatPlaces   = 2
	CryptoPlaces = 8
)

// Fiat normalizes a fiat amount to two decimal places.
func Fiat(d decimal.Decimal) decimal.Decimal { return d.Round(FiatPlaces) }

// Quantity normalizes a crypto quantity to eight decimal places.
func Quantity(d decimal.Decimal) decimal.Decimal { return d.Round(CryptoPlaces) }

// User is the account aggregate root. The username is immutable and doubles
// as the partition key; the password hash never leaves the DAO layer.
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone,omitempty"`
	DateOfBirth  string    `json:"date_of_birth,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sanitized returns a copy safe to hand to collaborators (no hash).
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// Balance is the user's fiat cash position. It exists iff the user exists
// and is mutated only through BalanceTransaction writes.
type Balance struct {
	Username       string          `json:"username"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Balance transaction types. ORDER_PAYMENT debits cash for a buy,
// ORDER_SALE credits the proceeds of a sell, REFUND compensates a buy whose
// asset leg could not complete.
const (
	TxDeposit      = "DEPOSIT"
	TxWithdraw     = "WITHDRAW"
	TxOrderPayment = "ORDER_PAYMENT"
	TxOrderSale    = "ORDER_SALE"
	TxRefund       = "REFUND"
)

// Balance transaction statuses.
const (
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// BalanceTransaction is one append-only signed ledger row on a user's cash
// account. The sort key is the creation timestamp in RFC3339Nano; the DAO
// appends a UUID suffix when two rows land on the same instant.
type BalanceTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Username      string          `json:"username"`
	Type          string          `json:"transaction_type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerPk derives the ledger partition key for a username.
func LedgerPk(username string) string { return PkPrefixTrans + username }

// AssetBalance is a per-(user, asset) quantity holding.
type AssetBalance struct {
	Username  string          `json:"username"`
	AssetID   string          `json:"asset_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AssetBalanceSk derives the sort key for an asset position row.
func AssetBalanceSk(assetID string) string { return SkPrefixAsset + assetID }

// Asset transaction sides.
const (
	AssetTxBuy  = "BUY"
	AssetTxSell = "SELL"
)

// AssetTransaction is one append-only ledger row for an executed buy or
// sell, always referencing the order that produced it.
type AssetTransaction struct {
	Username    string          `json:"username"`
	AssetID     string          `json:"asset_id"`
	Type        string          `json:"transaction_type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OrderID     string          `json:"order_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AssetLedgerPk derives the asset ledger partition key.
func AssetLedgerPk(username, assetID string) string {
	return fmt.Sprintf("%s%s#%s", PkPrefixTrans, username, assetID)
}

// UserLock is the TTL'd mutex row serializing a user's mutating
// operations. At most one non-expired row exists per username.
type UserLock struct {
	Username  string    `json:"username"`
	LockID    string    `json:"lock_id"`
	Operation string    `json:"operation"`
	ExpiresAt time.Time `json:"expires_at"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LockPk derives the lock partition key for a username.
func LockPk(username string) string { return PkPrefixLock + username }

// Expired reports whether the lock row no longer guards anything.
func (l UserLock) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }

// Asset is an inventory entry. The core only reads assets; the inventory
// collaborator owns their lifecycle. An asset priced at zero is never
// active.
type Asset struct {
	AssetID   string          `json:"asset_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Amount    decimal.Decimal `json:"amount"`
	IsActive  bool            `json:"is_active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Tradable reports whether orders may reference this asset.
func (a Asset) Tradable() bool { return a.IsActive && a.PriceUSD.IsPositive() }
