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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter assembles the HTTP surface. Registration, login and the
// inventory catalog are public; everything else requires an identity.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(recoverMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/inventory", h.ListInventory)
	r.Get("/inventory/{asset_id}", h.GetAsset)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/auth/me", h.Me)
		r.Put("/auth/me", h.UpdateMe)

		r.Get("/balance", h.GetBalance)
		r.Post("/balance/deposit", h.Deposit)
		r.Post("/balance/withdraw", h.Withdraw)
		r.Get("/balance/transactions", h.ListTransactions)

		r.Get("/portfolio", h.GetPortfolio)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/users/{username}/orders", h.ListUserOrders)
	})

	return r
}
