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

package dao

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/auth"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

// UserDAO persists User rows (Pk=username, Sk="USER") in the users table.
type UserDAO struct {
	store  *kvstore.Store
	tables Tables
}

func NewUserDAO(store *kvstore.Store, tables Tables) *UserDAO {
	return &UserDAO{store: store, tables: tables}
}

// Create inserts a new user. The put is conditional on the username being
// free; the email uniqueness check is a read-then-conditional-put, so a
// duplicate email racing past the read still surfaces as AlreadyExists on
// the losing write.
func (d *UserDAO) Create(ctx context.Context, user models.User) (*models.User, error) {
	if user.Username == "" || user.Email == "" {
		return nil, fmt.Errorf("%w: username and email are required", apperrors.ErrValidation)
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}
	if user.Role != models.RoleCustomer && user.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", apperrors.ErrValidation, user.Role)
	}

	if _, err := d.GetByEmail(ctx, user.Email); err == nil {
		return nil, fmt.Errorf("%w: email %s already registered", apperrors.ErrAlreadyExists, user.Email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	now := nowUTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := kvstore.MarshalItem(user)
	if err != nil {
		return nil, err
	}
	err = d.store.Put(ctx, d.tables.Users, user.Username, models.SkUser, item, kvstore.NotExists())
	if err != nil {
		if errors.Is(err, apperrors.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: username %s is taken", apperrors.ErrAlreadyExists, user.Username)
		}
		return nil, err
	}

	zap.L().Info("User created",
		zap.String("username", user.Username),
		zap.String("role", user.Role))
	return &user, nil
}

// GetByUsername returns the user or NotFound.
func (d *UserDAO) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	item, err := d.store.Get(ctx, d.tables.Users, username, models.SkUser)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := kvstore.UnmarshalItem(item, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail resolves a user through the email index.
func (d *UserDAO) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	items, err := d.store.Query(ctx, kvstore.QueryInput{
		Table:     d.tables.Users,
		Pk:        email,
		IndexName: EmailIndex,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no user with email %s", apperrors.ErrNotFound, email)
	}
	var user models.User
	if err := kvstore.UnmarshalItem(items[0], &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate returns the user when the password matches its stored hash.
// An unknown username and a wrong password are indistinguishable to the
// caller.
func (d *UserDAO) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := d.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: bad username or password", apperrors.ErrInvalidCredentials)
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		zap.L().Info("Authentication failed", zap.String("username", username))
		return nil, fmt.Errorf("%w: bad username or password", apperrors.ErrInvalidCredentials)
	}
	return user, nil
}

// Update writes non-identity profile fields and touches updated_at. The
// username, email, role and password hash are not updatable here.
func (d *UserDAO) Update(ctx context.Context, user models.User) (*models.User, error) {
	set := map[string]any{
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"phone":      user.Phone,
		"updated_at": nowUTC(),
	}
	if user.DateOfBirth != "" {
		set["date_of_birth"] = user.DateOfBirth
	}

	item, err := d.store.Update(ctx, d.tables.Users, user.Username, models.SkUser, set, nil)
	if err != nil {
		return nil, err
	}
	var updated models.User
	if err := kvstore.UnmarshalItem(item, &updated); err != nil {
		return nil, err
	}
	zap.L().Info("User profile updated", zap.String("username", user.Username))
	return &updated, nil
}

// Delete removes a user row. Used only to compensate a registration whose
// balance leg failed.
func (d *UserDAO) Delete(ctx context.Context, username string) error {
	return d.store.Delete(ctx, d.tables.Users, username, models.SkUser, nil)
}
