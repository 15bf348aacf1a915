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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/auth"
	"cnop-core/internal/models"
	"cnop-core/internal/transaction"
)

var errMissingToken = fmt.Errorf("%w: missing bearer token", apperrors.ErrInvalidCredentials)

// UserDirectory is the slice of the user DAO the HTTP surface needs for
// login and profile handling.
type UserDirectory interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	Update(ctx context.Context, user models.User) (*models.User, error)
}

// AssetCatalog is the read-only inventory view.
type AssetCatalog interface {
	Get(ctx context.Context, assetID string) (*models.Asset, error)
	GetAll(ctx context.Context, activeOnly bool) ([]models.Asset, error)
}

// Handler holds the HTTP surface's dependencies.
type Handler struct {
	manager  *transaction.Manager
	users    UserDirectory
	assets   AssetCatalog
	tokens   *auth.TokenService
	validate *validator.Validate
}

func NewHandler(manager *transaction.Manager, users UserDirectory, assets AssetCatalog, tokens *auth.TokenService) *Handler {
	return &Handler{
		manager:  manager,
		users:    users,
		assets:   assets,
		tokens:   tokens,
		validate: newValidator(),
	}
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, balance, err := h.manager.Register(r.Context(), transaction.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"user":    toUserResponse(*user),
		"balance": balance,
	})
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.tokens.Issue(user.Username, user.Role)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", apperrors.ErrInternal, err))
		return
	}

	h.writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, TokenType: "bearer"})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	user, err := h.users.GetByUsername(r.Context(), id.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserResponse(*user))
}

// UpdateMe handles PUT /auth/me.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	var req UpdateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.users.Update(r.Context(), models.User{
		Username:    id.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserResponse(*updated))
}

// Deposit handles POST /balance/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.cashOperation(w, r, h.manager.Deposit)
}

// Withdraw handles POST /balance/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.cashOperation(w, r, h.manager.Withdraw)
}

func (h *Handler) cashOperation(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, username string, amount decimal.Decimal) (*models.TransactionResult, error)) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := req.ParsedAmount()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := op(r.Context(), id.Username, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	balance, err := h.manager.GetBalance(r.Context(), id.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// ListTransactions handles GET /balance/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor := r.URL.Query().Get("cursor")

	txs, next, err := h.manager.ListTransactions(r.Context(), id.Username, limit, cursor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"items":       txs,
		"next_cursor": next,
	})
}

// GetPortfolio handles GET /portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	portfolio, err := h.manager.GetPortfolio(r.Context(), id.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, portfolio)
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	quantity, price, err := req.ParsedQuantityPrice()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var result *models.TransactionResult
	switch req.OrderType {
	case models.OrderTypeMarketBuy:
		result, err = h.manager.BuyOrder(r.Context(), id.Username, req.AssetID, quantity, price, req.OrderType)
	case models.OrderTypeMarketSell:
		result, err = h.manager.SellOrder(r.Context(), id.Username, req.AssetID, quantity, price, req.OrderType)
	default:
		err = fmt.Errorf("%w: unknown order type %q", apperrors.ErrValidation, req.OrderType)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	order, err := h.manager.GetOrder(r.Context(), id.Username, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /orders/{id}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	order, err := h.manager.CancelOrder(r.Context(), id.Username, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ListUserOrders handles GET /users/{username}/orders. Customers may only
// list their own orders; admins may list anyone's.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		h.writeError(w, r, errMissingToken)
		return
	}
	target := chi.URLParam(r, "username")
	if target != id.Username && id.Role != models.RoleAdmin {
		h.writeError(w, r, fmt.Errorf("%w: cannot list another user's orders", apperrors.ErrAccessDenied))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	assetID := r.URL.Query().Get("asset_id")

	orders, err := h.manager.ListOrders(r.Context(), target, assetID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": orders})
}

// ListInventory handles GET /inventory.
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") != "false"
	assets, err := h.assets.GetAll(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": assets})
}

// GetAsset handles GET /inventory/{asset_id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.assets.Get(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

// decode parses and validates a JSON body, writing the error response
// itself when the payload is bad.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed JSON body", apperrors.ErrValidation))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.writeError(w, r, fmt.Errorf("%w: field %s failed rule %s",
				apperrors.ErrValidation, verrs[0].Field(), verrs[0].Tag()))
		} else {
			h.writeError(w, r, fmt.Errorf("%w: invalid payload", apperrors.ErrValidation))
		}
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps a taxonomy error onto the envelope. Messages carry no
// stack traces, store fragments or secrets.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	kind := apperrors.Kind(err)
	requestID := w.Header().Get(headerRequestID)

	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("kind", kind),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
	} else {
		zap.L().Info("Request rejected",
			zap.String("kind", kind),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Int("status", status))
	}

	// 5xx detail stays in the log; the envelope carries a fixed message so
	// store internals never reach a client.
	message := err.Error()
	if status >= http.StatusInternalServerError {
		if apperrors.Retryable(err) {
			message = "service temporarily unavailable"
		} else {
			message = "internal error"
		}
	}

	h.writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Kind:      kind,
		Message:   message,
		RequestID: requestID,
		Retryable: apperrors.Retryable(err),
	}})
}
