// Package handler содержит HTTP-обработчики API сервиса коинзон.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tdnguyen/coinzone-system/internal/middleware"
	"github.com/tdnguyen/coinzone-system/internal/model"
	"github.com/tdnguyen/coinzone-system/internal/offers"
	"github.com/tdnguyen/coinzone-system/internal/repository"
	"github.com/tdnguyen/coinzone-system/internal/service"
	"github.com/tdnguyen/coinzone-system/internal/sheet"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password, referralCode string) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (int64, error)
	AuthenticateGoogle(ctx context.Context, idToken string) (int64, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	ClaimDaily(ctx context.Context, userID int64) (int64, error)
	AddCoins(ctx context.Context, userID int64, amount int64) (int64, error)
	AdminAddCoins(ctx context.Context, secret, username string, amount int64) (int64, error)
	RedeemCard(ctx context.Context, userID int64, cardType string, faceValue int64) (*model.Redemption, int64, error)
	GetRedemptionHistory(ctx context.Context, userID int64) ([]model.Redemption, error)
	Withdraw(ctx context.Context, userID int64, amount int64, destination string) (int64, error)
	ToggleFavorite(ctx context.Context, userID int64, offerID string) (bool, error)
	GetFavorites(ctx context.Context, userID int64) ([]string, error)
}

// OffersCatalog определяет контракт внешнего каталога офферов.
type OffersCatalog interface {
	GetOffers(ctx context.Context, params url.Values) (json.RawMessage, error)
	GetCategories(ctx context.Context) ([]string, error)
}

// Handler реализует HTTP-обработчики API сервиса коинзон.
type Handler struct {
	service        Service
	catalog        OffersCatalog
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, catalog OffersCatalog, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		catalog:        catalog,
		logger:         logger,
		authMiddleware: auth,
	}
}

type response struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Token    string `json:"token,omitempty"`
	User     any    `json:"user,omitempty"`
	NewCoins *int64 `json:"newCoins,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, response{Success: false, Message: message})
}

func coins(v int64) *int64 {
	return &v
}

type userResponse struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	ReferralCode     string `json:"referralCode"`
	CoinBalance      int64  `json:"coinBalance"`
	LastDailyClaimAt string `json:"lastDailyClaimAt,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:           u.ID,
		Username:     u.Username,
		ReferralCode: u.ReferralCode,
		CoinBalance:  u.CoinBalance,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339),
	}
	if u.LastDailyClaimAt != nil {
		resp.LastDailyClaimAt = u.LastDailyClaimAt.Format(time.RFC3339)
	}
	return resp
}

// GetOffers проксирует запрос к внешнему каталогу офферов,
// передавая параметры фильтрации без изменений.
func (h *Handler) GetOffers(w http.ResponseWriter, r *http.Request) {
	data, err := h.catalog.GetOffers(r.Context(), r.URL.Query())
	if err != nil {
		if errors.Is(err, offers.ErrTimeout) {
			h.fail(w, http.StatusGatewayTimeout, "offers catalog timed out")
			return
		}
		h.logger.Error("get offers error", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to reach offers catalog")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok", Data: data})
}

// GetCategories возвращает список доменов площадок из каталога офферов.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.GetCategories(r.Context())
	if err != nil {
		if errors.Is(err, offers.ErrTimeout) {
			h.fail(w, http.StatusGatewayTimeout, "offers catalog timed out")
			return
		}
		h.logger.Error("get categories error", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to reach offers catalog")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok", Data: categories})
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.fail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Username, req.Password, req.ReferralCode)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			h.fail(w, http.StatusConflict, "username already taken")
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.respondWithSession(w, r, userID, "registered")
}

func (h *Handler) respondWithSession(w http.ResponseWriter, r *http.Request, userID int64, message string) {
	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("load user error", zap.Error(err), zap.Int64("userID", userID))
		h.fail(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	h.writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: message,
		Token:   token,
		User:    toUserResponse(u),
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.fail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.fail(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.respondWithSession(w, r, userID, "logged in")
}

type googleAuthRequest struct {
	Credential string `json:"credential"`
}

// GoogleAuth выполняет вход по ID-токену Google и выдаёт токен сессии.
func (h *Handler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	var req googleAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Credential == "" {
		h.fail(w, http.StatusBadRequest, "credential is required")
		return
	}

	userID, err := h.service.AuthenticateGoogle(r.Context(), req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsePasswordLogin):
			h.fail(w, http.StatusConflict, "account exists, use password login")
		case errors.Is(err, repository.ErrGoogleIDExists):
			h.fail(w, http.StatusConflict, "google account already linked")
		default:
			h.logger.Error("google auth error", zap.Error(err))
			h.fail(w, http.StatusUnauthorized, "google sign-in failed")
		}
		return
	}

	h.respondWithSession(w, r, userID, "logged in")
}

// Me возвращает текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("load user error", zap.Error(err), zap.Int64("userID", userID))
		h.fail(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok", User: toUserResponse(u)})
}

// ClaimDaily начисляет ежедневный бонус текущему пользователю.
func (h *Handler) ClaimDaily(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	newBalance, err := h.service.ClaimDaily(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyClaimed):
			h.fail(w, http.StatusBadRequest, "already claimed today")
		case errors.Is(err, repository.ErrUserNotFound):
			h.fail(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error("claim daily error", zap.Error(err), zap.Int64("userID", userID))
			h.fail(w, http.StatusInternalServerError, "claim failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "daily bonus claimed", NewCoins: coins(newBalance)})
}

type addCoinsRequest struct {
	AmountToAdd int64 `json:"amountToAdd"`
}

// AddCoins начисляет текущему пользователю коины за просмотр рекламы.
func (h *Handler) AddCoins(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req addCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newBalance, err := h.service.AddCoins(r.Context(), userID, req.AmountToAdd)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAmountOutOfRange):
			h.fail(w, http.StatusBadRequest, "invalid amount")
		case errors.Is(err, repository.ErrUserNotFound):
			h.fail(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error("add coins error", zap.Error(err), zap.Int64("userID", userID))
			h.fail(w, http.StatusInternalServerError, "add coins failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "coins added", NewCoins: coins(newBalance)})
}

type adminAddCoinsRequest struct {
	Secret   string `json:"secret"`
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

// AdminAddCoins выполняет административное изменение баланса по общему секрету.
func (h *Handler) AdminAddCoins(w http.ResponseWriter, r *http.Request) {
	var req adminAddCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" {
		h.fail(w, http.StatusBadRequest, "username is required")
		return
	}

	newBalance, err := h.service.AdminAddCoins(r.Context(), req.Secret, req.Username, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadAdminSecret):
			h.fail(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, repository.ErrUserNotFound):
			h.fail(w, http.StatusNotFound, "user not found")
		case errors.Is(err, repository.ErrInsufficientBalance):
			h.fail(w, http.StatusBadRequest, "balance cannot go negative")
		default:
			h.logger.Error("admin add coins error", zap.Error(err))
			h.fail(w, http.StatusInternalServerError, "admin grant failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "coins added", NewCoins: coins(newBalance)})
}

type redeemRequest struct {
	CardType  string `json:"cardType"`
	FaceValue int64  `json:"faceValue"`
}

type redemptionResponse struct {
	ID         string  `json:"id"`
	CardType   string  `json:"cardType"`
	Amount     int64   `json:"amount"`
	Status     string  `json:"status"`
	CardCode   *string `json:"cardCode"`
	CardSerial *string `json:"cardSerial"`
	CreatedAt  string  `json:"createdAt"`
}

func toRedemptionResponse(red *model.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:         red.ID.String(),
		CardType:   red.CardType,
		Amount:     red.FaceValue,
		Status:     string(red.Status),
		CardCode:   red.CardCode,
		CardSerial: red.CardSerial,
		CreatedAt:  red.CreatedAt.Format(time.RFC3339),
	}
}

// RedeemCard списывает коины и создаёт заявку на карту оплаты.
func (h *Handler) RedeemCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CardType == "" {
		h.fail(w, http.StatusBadRequest, "card type is required")
		return
	}

	red, newBalance, err := h.service.RedeemCard(r.Context(), userID, req.CardType, req.FaceValue)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFaceValue):
			h.fail(w, http.StatusBadRequest, "invalid face value")
		case errors.Is(err, repository.ErrInsufficientBalance):
			h.fail(w, http.StatusBadRequest, "insufficient balance")
		case errors.Is(err, repository.ErrUserNotFound):
			h.fail(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error("redeem card error", zap.Error(err), zap.Int64("userID", userID))
			h.fail(w, http.StatusInternalServerError, "redemption failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response{
		Success:  true,
		Message:  "redemption request created",
		NewCoins: coins(newBalance),
		Data:     toRedemptionResponse(red),
	})
}

// RedemptionHistory возвращает заявки текущего пользователя, новые первыми.
func (h *Handler) RedemptionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	history, err := h.service.GetRedemptionHistory(r.Context(), userID)
	if err != nil {
		h.logger.Error("redemption history error", zap.Error(err), zap.Int64("userID", userID))
		h.fail(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	resp := make([]redemptionResponse, 0, len(history))
	for i := range history {
		resp = append(resp, toRedemptionResponse(&history[i]))
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok", Data: resp})
}

type withdrawRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

// Withdraw списывает коины и выгружает строку во внешний реестр выводов.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Destination == "" {
		h.fail(w, http.StatusBadRequest, "destination is required")
		return
	}

	newBalance, err := h.service.Withdraw(r.Context(), userID, req.Amount, req.Destination)
	if errors.Is(err, service.ErrWithdrawalNotMarked) {
		// Коины списаны и выгрузка прошла, не обновился только локальный
		// статус; клиенту отвечаем успехом, инцидент фиксируем в логе.
		h.logger.Warn("withdrawal not marked sent", zap.Error(err), zap.Int64("userID", userID))
		err = nil
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAmountOutOfRange):
			h.fail(w, http.StatusBadRequest, "invalid amount")
		case errors.Is(err, repository.ErrInsufficientBalance):
			h.fail(w, http.StatusBadRequest, "insufficient balance")
		case errors.Is(err, repository.ErrUserNotFound):
			h.fail(w, http.StatusNotFound, "user not found")
		case errors.Is(err, sheet.ErrUnavailable):
			h.fail(w, http.StatusInternalServerError, "withdrawal ledger unavailable, coins were not debited")
		default:
			h.logger.Error("withdraw error", zap.Error(err), zap.Int64("userID", userID))
			h.fail(w, http.StatusInternalServerError, "withdrawal failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "withdrawal requested", NewCoins: coins(newBalance)})
}

type favoriteRequest struct {
	OfferID string `json:"offerId"`
}

// ToggleFavorite добавляет или убирает оффер из избранного текущего пользователя.
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OfferID == "" {
		h.fail(w, http.StatusBadRequest, "offer id is required")
		return
	}

	added, err := h.service.ToggleFavorite(r.Context(), userID, req.OfferID)
	if err != nil {
		h.logger.Error("toggle favorite error", zap.Error(err), zap.Int64("userID", userID))
		h.fail(w, http.StatusInternalServerError, "failed to update favorites")
		return
	}

	message := "favorite removed"
	if added {
		message = "favorite added"
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: message})
}

// GetFavorites возвращает идентификаторы избранных офферов текущего пользователя.
func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	favorites, err := h.service.GetFavorites(r.Context(), userID)
	if err != nil {
		h.logger.Error("get favorites error", zap.Error(err), zap.Int64("userID", userID))
		h.fail(w, http.StatusInternalServerError, "failed to load favorites")
		return
	}

	if favorites == nil {
		favorites = []string{}
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok", Data: favorites})
}
