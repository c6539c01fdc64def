package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/tdnguyen/coinzone-system/internal/middleware"
	"github.com/tdnguyen/coinzone-system/internal/model"
	"github.com/tdnguyen/coinzone-system/internal/offers"
	"github.com/tdnguyen/coinzone-system/internal/repository"
	"github.com/tdnguyen/coinzone-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	googleUserID int64
	googleErr    error

	user    *model.User
	userErr error

	claimBalance int64
	claimErr     error

	addBalance int64
	addErr     error

	adminBalance int64
	adminErr     error

	redemption        *model.Redemption
	redemptionBalance int64
	redeemErr         error

	history    []model.Redemption
	historyErr error

	withdrawBalance int64
	withdrawErr     error

	toggleAdded bool
	favorites   []string
}

func (s *stubService) RegisterUser(ctx context.Context, username, password, referralCode string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) AuthenticateGoogle(ctx context.Context, idToken string) (int64, error) {
	return s.googleUserID, s.googleErr
}

func (s *stubService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) ClaimDaily(ctx context.Context, userID int64) (int64, error) {
	return s.claimBalance, s.claimErr
}

func (s *stubService) AddCoins(ctx context.Context, userID int64, amount int64) (int64, error) {
	return s.addBalance, s.addErr
}

func (s *stubService) AdminAddCoins(ctx context.Context, secret, username string, amount int64) (int64, error) {
	return s.adminBalance, s.adminErr
}

func (s *stubService) RedeemCard(ctx context.Context, userID int64, cardType string, faceValue int64) (*model.Redemption, int64, error) {
	return s.redemption, s.redemptionBalance, s.redeemErr
}

func (s *stubService) GetRedemptionHistory(ctx context.Context, userID int64) ([]model.Redemption, error) {
	return s.history, s.historyErr
}

func (s *stubService) Withdraw(ctx context.Context, userID int64, amount int64, destination string) (int64, error) {
	return s.withdrawBalance, s.withdrawErr
}

func (s *stubService) ToggleFavorite(ctx context.Context, userID int64, offerID string) (bool, error) {
	return s.toggleAdded, nil
}

func (s *stubService) GetFavorites(ctx context.Context, userID int64) ([]string, error) {
	return s.favorites, nil
}

type stubCatalog struct {
	offersData json.RawMessage
	offersErr  error

	categories    []string
	categoriesErr error
}

func (s *stubCatalog) GetOffers(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return s.offersData, s.offersErr
}

func (s *stubCatalog) GetCategories(ctx context.Context) ([]string, error) {
	return s.categories, s.categoriesErr
}

func newTestHandler(t *testing.T, svc Service, catalog OffersCatalog) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	if catalog == nil {
		catalog = &stubCatalog{}
	}

	return NewHandler(svc, catalog, logger, auth)
}

func decodeResponse(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func authedRequest(t *testing.T, h *Handler, method, target string, body *bytes.Reader) *http.Request {
	t.Helper()

	token, err := h.authMiddleware.IssueToken(1)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
		user: &model.User{
			ID:           42,
			Username:     "user",
			ReferralCode: "USERAB12",
			CoinBalance:  0,
			CreatedAt:    time.Now(),
		},
	}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(registerRequest{Username: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	resp := decodeResponse(t, res)
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["token"] == nil || resp["token"] == "" {
		t.Fatalf("token missing in response")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(registerRequest{Username: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	body, _ := json.Marshal(registerRequest{Username: "user"})

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(credentialsRequest{Username: "user", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetOffers_Timeout(t *testing.T) {
	catalog := &stubCatalog{offersErr: offers.ErrTimeout}
	h := newTestHandler(t, &stubService{}, catalog)

	req := httptest.NewRequest(http.MethodGet, "/api/offers?keyword=tiki", nil)
	rec := httptest.NewRecorder()

	h.GetOffers(rec, req)

	if rec.Result().StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusGatewayTimeout)
	}
}

func TestGetCategories_OK(t *testing.T) {
	catalog := &stubCatalog{categories: []string{"shopee.vn", "tiki.vn"}}
	h := newTestHandler(t, &stubService{}, catalog)

	req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	rec := httptest.NewRecorder()

	h.GetCategories(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	resp := decodeResponse(t, res)
	data, ok := resp["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("data = %v, want two categories", resp["data"])
	}
}

func TestClaimDaily_AlreadyClaimed(t *testing.T) {
	svc := &stubService{claimErr: repository.ErrAlreadyClaimed}
	h := newTestHandler(t, svc, nil)

	req := authedRequest(t, h, http.MethodPost, "/api/user/claim-daily", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.ClaimDaily)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	resp := decodeResponse(t, res)
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
}

func TestClaimDaily_Success(t *testing.T) {
	svc := &stubService{claimBalance: 110}
	h := newTestHandler(t, svc, nil)

	req := authedRequest(t, h, http.MethodPost, "/api/user/claim-daily", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.ClaimDaily)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	resp := decodeResponse(t, res)
	if resp["newCoins"] != float64(110) {
		t.Fatalf("newCoins = %v, want 110", resp["newCoins"])
	}
}

func TestRedeemCard_InsufficientBalance(t *testing.T) {
	svc := &stubService{redeemErr: repository.ErrInsufficientBalance}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(redeemRequest{CardType: "Viettel", FaceValue: 20000})
	req := authedRequest(t, h, http.MethodPost, "/api/redeem-card", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.RedeemCard)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestRedeemCard_Success(t *testing.T) {
	svc := &stubService{
		redemption: &model.Redemption{
			ID:        uuid.New(),
			UserID:    1,
			CardType:  "Viettel",
			FaceValue: 20000,
			Status:    model.RedemptionStatusPending,
			CreatedAt: time.Now(),
		},
		redemptionBalance: 1000,
	}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(redeemRequest{CardType: "Viettel", FaceValue: 20000})
	req := authedRequest(t, h, http.MethodPost, "/api/redeem-card", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.RedeemCard)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	resp := decodeResponse(t, res)
	if resp["newCoins"] != float64(1000) {
		t.Fatalf("newCoins = %v, want 1000", resp["newCoins"])
	}

	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing in response")
	}
	if data["status"] != "pending" {
		t.Fatalf("status = %v, want pending", data["status"])
	}
	if data["amount"] != float64(20000) {
		t.Fatalf("amount = %v, want 20000", data["amount"])
	}
}

func TestRedemptionHistory_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		history: []model.Redemption{
			{ID: uuid.New(), UserID: 1, CardType: "MobiFone", FaceValue: 10000, Status: model.RedemptionStatusPending, CreatedAt: now},
			{ID: uuid.New(), UserID: 1, CardType: "Viettel", FaceValue: 20000, Status: model.RedemptionStatusCompleted, CreatedAt: now.Add(-time.Hour)},
		},
	}
	h := newTestHandler(t, svc, nil)

	req := authedRequest(t, h, http.MethodGet, "/api/redemption-history", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.RedemptionHistory)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	resp := decodeResponse(t, res)
	data, ok := resp["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("data = %v, want two redemptions", resp["data"])
	}
}

func TestAdminAddCoins_Forbidden(t *testing.T) {
	svc := &stubService{adminErr: service.ErrBadAdminSecret}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(adminAddCoinsRequest{Secret: "wrong", Username: "alice", Amount: 50})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/add-coins", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AdminAddCoins(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestProtectedRoute_WithoutToken(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/user/claim-daily", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestWithdraw_UnmarkedSentStillSucceeds(t *testing.T) {
	svc := &stubService{
		withdrawBalance: 700,
		withdrawErr:     fmt.Errorf("%w: connection reset", service.ErrWithdrawalNotMarked),
	}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(withdrawRequest{Amount: 300, Destination: "0901234567"})
	req := authedRequest(t, h, http.MethodPost, "/api/withdraw", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Withdraw)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	resp := decodeResponse(t, res)
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["newCoins"] != float64(700) {
		t.Fatalf("newCoins = %v, want 700", resp["newCoins"])
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	svc := &stubService{withdrawErr: repository.ErrInsufficientBalance}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(withdrawRequest{Amount: 500, Destination: "0901234567"})
	req := authedRequest(t, h, http.MethodPost, "/api/withdraw", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Withdraw)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}
