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

// Package api exposes the transactional core over HTTP. It is a
// collaborator of the core: it validates transport payloads, maps errors
// to status codes and delegates everything else to the transaction
// manager.
package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/auth"
	"cnop-core/internal/models"
)

// newValidator builds the request validator with the password-policy rule
// registered.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("tradepassword", func(fl validator.FieldLevel) bool {
		return auth.ValidatePassword(fl.Field().String()) == nil
	})
	return v
}

// RegisterRequest is the registration payload. Amounts and dates travel
// as strings.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,tradepassword"`
	FirstName   string `json:"first_name" validate:"required,max=50"`
	LastName    string `json:"last_name" validate:"required,max=50"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=20"`
	DateOfBirth string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// UpdateProfileRequest carries the mutable profile fields.
type UpdateProfileRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=50"`
	LastName    string `json:"last_name" validate:"required,max=50"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=20"`
	DateOfBirth string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// AmountRequest carries a decimal amount as a string.
type AmountRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// ParsedAmount validates and parses the amount.
func (r AmountRequest) ParsedAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", apperrors.ErrValidation, r.Amount)
	}
	return amount, nil
}

// CreateOrderRequest carries a market order.
type CreateOrderRequest struct {
	OrderType string `json:"order_type" validate:"required,oneof=MARKET_BUY MARKET_SELL"`
	AssetID   string `json:"asset_id" validate:"required,max=20"`
	Quantity  string `json:"quantity" validate:"required"`
	Price     string `json:"price" validate:"required"`
}

// ParsedQuantityPrice validates and parses the numeric legs.
func (r CreateOrderRequest) ParsedQuantityPrice() (decimal.Decimal, decimal.Decimal, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: invalid quantity %q", apperrors.ErrValidation, r.Quantity)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: invalid price %q", apperrors.ErrValidation, r.Price)
	}
	return quantity, price, nil
}

// UserResponse is the sanitized user representation.
type UserResponse struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
}

func toUserResponse(u models.User) UserResponse {
	return UserResponse{
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		DateOfBirth: u.DateOfBirth,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ErrorBody is the machine-readable error envelope.
type ErrorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorResponse wraps the envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
