package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/tdnguyen/coinzone-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса коинзон.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/offers", h.GetOffers)
		r.Get("/categories", h.GetCategories)

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/auth/google", h.GoogleAuth)

		r.Post("/admin/add-coins", h.AdminAddCoins)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/redeem-card", h.RedeemCard)
			r.Get("/redemption-history", h.RedemptionHistory)
			r.Post("/withdraw", h.Withdraw)

			r.Get("/user/me", h.Me)
			r.Post("/user/claim-daily", h.ClaimDaily)
			r.Post("/user/add-coins", h.AddCoins)
			r.Get("/user/favorites", h.GetFavorites)
			r.Post("/user/favorites", h.ToggleFavorite)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.fail(w, http.StatusNotFound, "not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
