// Package service реализует бизнес-логику сервиса коинзон.
package service

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
	"github.com/tdnguyen/coinzone-system/internal/googleauth"
	"github.com/tdnguyen/coinzone-system/internal/model"
	"github.com/tdnguyen/coinzone-system/internal/referral"
	"github.com/tdnguyen/coinzone-system/internal/repository"
	"github.com/tdnguyen/coinzone-system/internal/sheet"
)

const (
	bcryptCost = 12

	// Курс обмена: 1 коин покупает 10 единиц номинала карты.
	faceValuePerCoin = 10

	referralCodeAttempts = 5
)

// ErrInvalidCredentials возвращается при любой неудачной проверке логина и пароля.
// Несуществующий логин и неверный пароль намеренно неразличимы.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAmountOutOfRange возвращается для суммы вне допустимого диапазона.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrBadAdminSecret возвращается при неверном административном секрете.
	ErrBadAdminSecret = errors.New("bad admin secret")
	// ErrUsePasswordLogin возвращается, если логин уже занят парольной учётной записью.
	ErrUsePasswordLogin = errors.New("account exists, use password login")
	// ErrInvalidFaceValue возвращается для некорректного номинала карты.
	ErrInvalidFaceValue = errors.New("invalid face value")
	// ErrWithdrawalNotMarked возвращается, если вывод выгружен успешно,
	// но локальная запись осталась в статусе pending. Коины уже списаны,
	// поэтому для клиента это успех; об инциденте нужно оставить след.
	ErrWithdrawalNotMarked = errors.New("withdrawal sent but not marked")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, p repository.CreateUserParams) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	ClaimDaily(ctx context.Context, userID int64, bonus int64, now time.Time) (int64, error)
	AddCoins(ctx context.Context, userID int64, delta int64) (int64, error)
	AddCoinsByUsername(ctx context.Context, username string, delta int64) (int64, error)
	CreateRedemption(ctx context.Context, userID int64, cardType string, faceValue, requiredCoins int64) (*model.Redemption, int64, error)
	GetRedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error)
	CreateWithdrawal(ctx context.Context, userID int64, amount int64, destination string) (*model.Withdrawal, int64, error)
	MarkWithdrawalSent(ctx context.Context, id uuid.UUID) error
	RefundWithdrawal(ctx context.Context, id uuid.UUID, userID int64, amount int64) error
	ToggleFavorite(ctx context.Context, userID int64, offerID string) (bool, error)
	GetFavoritesByUser(ctx context.Context, userID int64) ([]string, error)
}

// TokenVerifier описывает проверку внешних ID-токенов.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*googleauth.Identity, error)
}

// SheetSink описывает выгрузку строки вывода во внешний реестр.
type SheetSink interface {
	AppendRow(ctx context.Context, row sheet.Row) error
}

// Options содержат настраиваемые параметры коин-леджера.
type Options struct {
	SignupBonus    int64
	ReferralBonus  int64
	DailyBonus     int64
	AdGrantCeiling int64
	AdminSecret    string
}

// Service содержит бизнес-логику сервиса коинзон.
type Service struct {
	repo     Repository
	verifier TokenVerifier
	sink     SheetSink
	opts     Options
}

// NewService создаёт новый сервис с указанным репозиторием и внешними клиентами.
func NewService(repo Repository, verifier TokenVerifier, sink SheetSink, opts Options) *Service {
	return &Service{
		repo:     repo,
		verifier: verifier,
		sink:     sink,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя. Если указан реферальный код
// существующего пользователя, реферер получает бонус, а стартовый баланс
// новичка равен реферальному бонусу; неизвестный код молча игнорируется.
func (s *Service) RegisterUser(ctx context.Context, username, password, referralCode string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, err
	}

	params := repository.CreateUserParams{
		Username:     username,
		PasswordHash: hashed,
		StartBalance: s.opts.SignupBonus,
	}

	if referralCode != "" {
		referrer, err := s.repo.GetUserByReferralCode(ctx, referralCode)
		if err == nil {
			params.ReferrerID = &referrer.ID
			params.ReferralBonus = s.opts.ReferralBonus
			params.StartBalance = s.opts.ReferralBonus
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return 0, err
		}
	}

	return s.createWithFreshCode(ctx, params)
}

// createWithFreshCode создаёт пользователя, перегенерируя реферальный код
// при коллизии уникальности.
func (s *Service) createWithFreshCode(ctx context.Context, params repository.CreateUserParams) (int64, error) {
	var lastErr error
	for i := 0; i < referralCodeAttempts; i++ {
		params.ReferralCode = referral.Generate(params.Username)
		id, err := s.repo.CreateUser(ctx, params)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, repository.ErrReferralCodeTaken) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	// Пустой хеш означает федеративную учётную запись без пароля.
	if len(u.PasswordHash) == 0 {
		return 0, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// AuthenticateGoogle проверяет ID-токен Google и возвращает идентификатор
// пользователя, создавая федеративную учётную запись при первом входе.
func (s *Service) AuthenticateGoogle(ctx context.Context, idToken string) (int64, error) {
	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return 0, err
	}

	u, err := s.repo.GetUserByGoogleID(ctx, identity.Subject)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return 0, err
	}

	username := identity.Email
	if username == "" {
		username = identity.Subject
	}

	if _, err := s.repo.GetUserByUsername(ctx, username); err == nil {
		return 0, ErrUsePasswordLogin
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return 0, err
	}

	return s.createWithFreshCode(ctx, repository.CreateUserParams{
		Username:     username,
		GoogleID:     identity.Subject,
		StartBalance: s.opts.SignupBonus,
	})
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// ClaimDaily начисляет ежедневный бонус; повторный вызов в те же
// календарные сутки (UTC) завершается ошибкой без изменения баланса.
func (s *Service) ClaimDaily(ctx context.Context, userID int64) (int64, error) {
	return s.repo.ClaimDaily(ctx, userID, s.opts.DailyBonus, time.Now())
}

// AddCoins начисляет пользователю указанную сумму в пределах потолка за вызов.
func (s *Service) AddCoins(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 || amount > s.opts.AdGrantCeiling {
		return 0, ErrAmountOutOfRange
	}
	return s.repo.AddCoins(ctx, userID, amount)
}

// AdminAddCoins изменяет баланс названного пользователя на произвольную
// величину после проверки административного секрета.
func (s *Service) AdminAddCoins(ctx context.Context, secret, username string, amount int64) (int64, error) {
	if s.opts.AdminSecret == "" ||
		!hmac.Equal([]byte(secret), []byte(s.opts.AdminSecret)) {
		return 0, ErrBadAdminSecret
	}
	return s.repo.AddCoinsByUsername(ctx, username, amount)
}

// RedeemCard списывает коины по курсу обмена и создаёт заявку на карту.
// Списание и запись заявки фиксируются одной транзакцией хранилища.
func (s *Service) RedeemCard(ctx context.Context, userID int64, cardType string, faceValue int64) (*model.Redemption, int64, error) {
	if faceValue <= 0 || faceValue%faceValuePerCoin != 0 {
		return nil, 0, ErrInvalidFaceValue
	}

	requiredCoins := faceValue / faceValuePerCoin
	return s.repo.CreateRedemption(ctx, userID, cardType, faceValue, requiredCoins)
}

// GetRedemptionHistory возвращает заявки пользователя, новые первыми.
func (s *Service) GetRedemptionHistory(ctx context.Context, userID int64) ([]model.Redemption, error) {
	return s.repo.GetRedemptionsByUser(ctx, userID)
}

// Withdraw списывает коины и выгружает строку во внешний реестр.
// При окончательном сбое выгрузки списание компенсируется, и вывод
// помечается как failed. Если после успешной выгрузки не удалось
// пометить запись отправленной, возвращается новый баланс вместе
// с ErrWithdrawalNotMarked.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount int64, destination string) (int64, error) {
	if amount <= 0 {
		return 0, ErrAmountOutOfRange
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	wd, newBalance, err := s.repo.CreateWithdrawal(ctx, userID, amount, destination)
	if err != nil {
		return 0, err
	}

	row := sheet.Row{
		WithdrawalID: wd.ID.String(),
		Username:     u.Username,
		Amount:       amount,
		Destination:  destination,
		RequestedAt:  wd.CreatedAt.UTC().Format(time.RFC3339),
	}

	if err := s.sink.AppendRow(ctx, row); err != nil {
		if refundErr := s.repo.RefundWithdrawal(ctx, wd.ID, userID, amount); refundErr != nil {
			return 0, refundErr
		}
		return 0, err
	}

	if err := s.repo.MarkWithdrawalSent(ctx, wd.ID); err != nil {
		return newBalance, fmt.Errorf("%w: %s", ErrWithdrawalNotMarked, err)
	}

	return newBalance, nil
}

// ToggleFavorite добавляет или убирает оффер из избранного пользователя.
func (s *Service) ToggleFavorite(ctx context.Context, userID int64, offerID string) (bool, error) {
	return s.repo.ToggleFavorite(ctx, userID, offerID)
}

// GetFavorites возвращает идентификаторы избранных офферов пользователя.
func (s *Service) GetFavorites(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.GetFavoritesByUser(ctx, userID)
}
