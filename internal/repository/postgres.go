// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/tdnguyen/coinzone-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferralCodeTaken возвращается при коллизии сгенерированного реферального кода.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrGoogleIDExists возвращается, если внешний идентификатор уже привязан к аккаунту.
	ErrGoogleIDExists = errors.New("google id already linked")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyClaimed возвращается при повторном получении ежедневного бонуса в тот же день.
	ErrAlreadyClaimed = errors.New("daily bonus already claimed today")
	// ErrWithdrawalNotFound возвращается, если запись о выводе не найдена.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUserParams описывает данные для создания нового пользователя.
type CreateUserParams struct {
	Username     string
	PasswordHash []byte
	GoogleID     string
	ReferralCode string
	StartBalance int64
	// ReferrerID задан, если регистрация пришла по реферальному коду.
	// Бонус рефереру начисляется в той же транзакции, что и создание пользователя.
	ReferrerID    *int64
	ReferralBonus int64
}

// CreateUser создаёт нового пользователя и, при наличии реферера,
// начисляет ему бонус в одной транзакции.
func (r *PostgresRepository) CreateUser(ctx context.Context, p CreateUserParams) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var googleID *string
	if p.GoogleID != "" {
		googleID = &p.GoogleID
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, google_id, referral_code, coin_balance)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.Username, p.PasswordHash, googleID, p.ReferralCode, p.StartBalance,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "users_referral_code_key":
				return 0, fmt.Errorf("%w: %s", ErrReferralCodeTaken, p.ReferralCode)
			case "users_google_id_key":
				return 0, fmt.Errorf("%w", ErrGoogleIDExists)
			default:
				return 0, fmt.Errorf("%w: %s", ErrUserExists, p.Username)
			}
		}
		return 0, fmt.Errorf("create user: %w", err)
	}

	if p.ReferrerID != nil && p.ReferralBonus > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE users SET coin_balance = coin_balance + $2, updated_at = now() WHERE id = $1`,
			*p.ReferrerID, p.ReferralBonus,
		)
		if err != nil {
			return 0, fmt.Errorf("credit referrer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

const userColumns = `id, username, password_hash, google_id, referral_code, coin_balance, last_daily_claim_at, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var googleID *string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &googleID, &u.ReferralCode,
		&u.CoinBalance, &u.LastDailyClaimAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if googleID != nil {
		u.GoogleID = *googleID
	}
	return &u, nil
}

// GetUserByUsername возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByGoogleID возвращает пользователя по внешнему идентификатору Google.
func (r *PostgresRepository) GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
	return scanUser(row)
}

// GetUserByReferralCode возвращает пользователя по его реферальному коду.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
	return scanUser(row)
}

// ClaimDaily начисляет ежедневный бонус не чаще одного раза в календарные сутки (UTC).
// Сравнение дат выполняется на стороне БД одним условным UPDATE, поэтому
// параллельные запросы не приводят к двойному начислению.
func (r *PostgresRepository) ClaimDaily(ctx context.Context, userID int64, bonus int64, now time.Time) (int64, error) {
	var newBalance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET coin_balance = coin_balance + $2, last_daily_claim_at = $3, updated_at = now()
		 WHERE id = $1
		   AND (last_daily_claim_at IS NULL
		        OR (last_daily_claim_at AT TIME ZONE 'UTC')::date < ($3 AT TIME ZONE 'UTC')::date)
		 RETURNING coin_balance`,
		userID, bonus, now.UTC(),
	).Scan(&newBalance)
	if err == nil {
		return newBalance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("claim daily: %w", err)
	}

	// UPDATE не затронул строк: либо пользователя нет, либо бонус уже получен сегодня.
	if _, lookupErr := r.GetUserByID(ctx, userID); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, ErrAlreadyClaimed
}

// AddCoins атомарно изменяет баланс пользователя на delta (может быть отрицательной).
// Возвращает ErrInsufficientBalance, если итоговый баланс стал бы отрицательным.
func (r *PostgresRepository) AddCoins(ctx context.Context, userID int64, delta int64) (int64, error) {
	var newBalance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET coin_balance = coin_balance + $2, updated_at = now()
		 WHERE id = $1 AND coin_balance + $2 >= 0
		 RETURNING coin_balance`,
		userID, delta,
	).Scan(&newBalance)
	if err == nil {
		return newBalance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("add coins: %w", err)
	}

	if _, lookupErr := r.GetUserByID(ctx, userID); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, ErrInsufficientBalance
}

// AddCoinsByUsername атомарно изменяет баланс пользователя, найденного по логину.
func (r *PostgresRepository) AddCoinsByUsername(ctx context.Context, username string, delta int64) (int64, error) {
	var newBalance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET coin_balance = coin_balance + $2, updated_at = now()
		 WHERE username = $1 AND coin_balance + $2 >= 0
		 RETURNING coin_balance`,
		username, delta,
	).Scan(&newBalance)
	if err == nil {
		return newBalance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("add coins by username: %w", err)
	}

	if _, lookupErr := r.GetUserByUsername(ctx, username); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, ErrInsufficientBalance
}

// CreateRedemption списывает requiredCoins с баланса и создаёт заявку на обмен
// в одной транзакции: либо фиксируются оба изменения, либо ни одно.
// Строка пользователя блокируется для сериализации параллельных списаний.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID int64, cardType string, faceValue, requiredCoins int64) (*model.Redemption, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, fmt.Errorf("lock user for update: %w", err)
	}

	if balance < requiredCoins {
		return nil, 0, ErrInsufficientBalance
	}

	newBalance := balance - requiredCoins
	_, err = tx.Exec(ctx,
		`UPDATE users SET coin_balance = $2, updated_at = now() WHERE id = $1`,
		userID, newBalance,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("debit balance: %w", err)
	}

	red := &model.Redemption{
		ID:        uuid.New(),
		UserID:    userID,
		CardType:  cardType,
		FaceValue: faceValue,
		Status:    model.RedemptionStatusPending,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO redemptions (id, user_id, card_type, face_value, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		red.ID, red.UserID, red.CardType, red.FaceValue, string(red.Status),
	).Scan(&red.CreatedAt, &red.UpdatedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("insert redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit tx: %w", err)
	}

	return red, newBalance, nil
}

// GetRedemptionsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) GetRedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, card_type, face_value, status, card_code, card_serial, created_at, updated_at
		 FROM redemptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var red model.Redemption
		var status string
		if err := rows.Scan(&red.ID, &red.UserID, &red.CardType, &red.FaceValue, &status,
			&red.CardCode, &red.CardSerial, &red.CreatedAt, &red.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		red.Status = model.RedemptionStatus(status)
		res = append(res, red)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateWithdrawal списывает amount коинов и создаёт запись о выводе со статусом
// pending в одной транзакции. Выгрузка во внешний реестр выполняется после
// коммита; при её окончательном сбое вызывается RefundWithdrawal.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, userID int64, amount int64, destination string) (*model.Withdrawal, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, fmt.Errorf("lock user for update: %w", err)
	}

	if balance < amount {
		return nil, 0, ErrInsufficientBalance
	}

	newBalance := balance - amount
	_, err = tx.Exec(ctx,
		`UPDATE users SET coin_balance = $2, updated_at = now() WHERE id = $1`,
		userID, newBalance,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("debit balance: %w", err)
	}

	wd := &model.Withdrawal{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Destination: destination,
		Status:      model.WithdrawalStatusPending,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO withdrawals (id, user_id, amount, destination, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		wd.ID, wd.UserID, wd.Amount, wd.Destination, string(wd.Status),
	).Scan(&wd.CreatedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("insert withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit tx: %w", err)
	}

	return wd, newBalance, nil
}

// MarkWithdrawalSent помечает запись о выводе как успешно выгруженную.
func (r *PostgresRepository) MarkWithdrawalSent(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE withdrawals SET status = $2 WHERE id = $1`,
		id, string(model.WithdrawalStatusSent),
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal sent: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// RefundWithdrawal выполняет компенсацию: возвращает коины на баланс и помечает
// запись о выводе как failed в одной транзакции.
func (r *PostgresRepository) RefundWithdrawal(ctx context.Context, id uuid.UUID, userID int64, amount int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE users SET coin_balance = coin_balance + $2, updated_at = now() WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("refund balance: %w", err)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE withdrawals SET status = $2 WHERE id = $1`,
		id, string(model.WithdrawalStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal failed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ToggleFavorite добавляет оффер в избранное пользователя или убирает его,
// если он уже добавлен. Возвращает true, если оффер был добавлен.
func (r *PostgresRepository) ToggleFavorite(ctx context.Context, userID int64, offerID string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO favorites (user_id, offer_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, offer_id) DO NOTHING`,
		userID, offerID,
	)
	if err != nil {
		return false, fmt.Errorf("insert favorite: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}

	_, err = r.pool.Exec(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND offer_id = $2`,
		userID, offerID,
	)
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}

	return false, nil
}

// GetFavoritesByUser возвращает идентификаторы избранных офферов пользователя.
func (r *PostgresRepository) GetFavoritesByUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT offer_id FROM favorites WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var offerID string
		if err := rows.Scan(&offerID); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		res = append(res, offerID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
