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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	OrderTypeMarketBuy  = "MARKET_BUY"
	OrderTypeMarketSell = "MARKET_SELL"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderQueued     OrderStatus = "QUEUED"
	OrderTriggered  OrderStatus = "TRIGGERED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderFailed     OrderStatus = "FAILED"
	OrderExpired    OrderStatus = "EXPIRED"
)

// orderTransitions is the permitted-transition table. Terminal states have
// no entry. The market-order flow writes COMPLETED directly, which stands
// for the collapsed PENDING -> PROCESSING -> COMPLETED path.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled, OrderFailed},
	OrderConfirmed:  {OrderQueued, OrderProcessing, OrderCancelled},
	OrderQueued:     {OrderTriggered, OrderCancelled, OrderExpired},
	OrderTriggered:  {OrderProcessing, OrderFailed},
	OrderProcessing: {OrderCompleted, OrderFailed},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are permitted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderFailed, OrderExpired:
		return true
	}
	return false
}

// UserCancellable reports whether a user (as opposed to the system) may
// cancel an order in this state. FAILED and EXPIRED are system-only.
func (s OrderStatus) UserCancellable() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderQueued:
		return true
	}
	return false
}

// Order records a user's intent to buy or sell an asset. For market orders
// the total amount always equals quantity * price.
type Order struct {
	OrderID      string          `json:"order_id"`
	Username     string          `json:"username"`
	OrderType    string          `json:"order_type"`
	Status       OrderStatus     `json:"status"`
	AssetID      string          `json:"asset_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	StatusReason string          `json:"status_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TransactionResult is the outcome envelope returned by every transaction
// manager operation.
type TransactionResult struct {
	Status            string              `json:"status"`
	TransactionType   string              `json:"transaction_type"`
	TransactionAmount decimal.Decimal     `json:"transaction_amount"`
	Balance           decimal.Decimal     `json:"balance"`
	AssetID           string              `json:"asset_id,omitempty"`
	AssetQuantity     *decimal.Decimal    `json:"asset_quantity,omitempty"`
	AssetBalance      *decimal.Decimal    `json:"asset_balance,omitempty"`
	Order             *Order              `json:"order,omitempty"`
	Transaction       *BalanceTransaction `json:"transaction,omitempty"`
}
