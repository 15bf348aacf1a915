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

// Package apperrors defines the closed error taxonomy emitted by the
// transactional core. Every DAO and manager failure wraps exactly one of
// these sentinels so collaborators can map it to a response without
// inspecting message text.
package apperrors

import (
	"errors"
	"net/http"
)

// Sentinel errors shared across all layers. DAOs and the transaction
// manager wrap these with %w; callers test with errors.Is.
var (
	ErrValidation               = errors.New("validation failed")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccessDenied             = errors.New("access denied")
	ErrNotFound                 = errors.New("entity not found")
	ErrAlreadyExists            = errors.New("entity already exists")
	ErrConditionFailed          = errors.New("conditional write failed")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientAssetBalance = errors.New("insufficient asset balance")
	ErrLockAcquireFailed        = errors.New("lock acquisition failed")
	ErrInvariantViolation       = errors.New("invariant violation")
	ErrStoreUnavailable         = errors.New("store unavailable")
	ErrInternal                 = errors.New("internal error")
)

// Kind returns the machine-readable kind string for an error, suitable for
// inclusion in API error envelopes and structured logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInvalidCredentials):
		return "InvalidCredentials"
	case errors.Is(err, ErrAccessDenied):
		return "AccessDenied"
	case errors.Is(err, ErrNotFound):
		return "EntityNotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "EntityAlreadyExists"
	case errors.Is(err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ErrInsufficientAssetBalance):
		return "InsufficientAssetBalance"
	case errors.Is(err, ErrLockAcquireFailed):
		return "LockAcquireFailed"
	case errors.Is(err, ErrInvariantViolation):
		return "InvariantViolation"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrConditionFailed):
		return "ConditionFailed"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps an error to the status code the request surface must
// return. ConditionFailed never escapes the core; if it does, it is a bug
// and reported as a conflict.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConditionFailed):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientAssetBalance):
		return http.StatusBadRequest
	case errors.Is(err, ErrLockAcquireFailed), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the operation.
// Lock contention and transient store failures clear on their own; logical
// failures never do.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockAcquireFailed) || errors.Is(err, ErrStoreUnavailable)
}
