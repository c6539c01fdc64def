// Package model содержит доменные сущности сервиса коинзон.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет зарегистрированного пользователя с коин-балансом.
type User struct {
	ID               int64
	Username         string
	PasswordHash     []byte
	GoogleID         string
	ReferralCode     string
	CoinBalance      int64
	LastDailyClaimAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Federated сообщает, привязан ли пользователь к внешнему провайдеру идентификации.
func (u *User) Federated() bool {
	return u.GoogleID != ""
}

// RedemptionStatus описывает статус заявки на обмен коинов.
type RedemptionStatus string

const (
	RedemptionStatusPending   RedemptionStatus = "pending"
	RedemptionStatusCompleted RedemptionStatus = "completed"
	RedemptionStatusFailed    RedemptionStatus = "failed"
)

// Redemption описывает заявку на обмен коинов на карту оплаты.
type Redemption struct {
	ID         uuid.UUID
	UserID     int64
	CardType   string
	FaceValue  int64
	Status     RedemptionStatus
	CardCode   *string
	CardSerial *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WithdrawalStatus описывает статус вывода коинов во внешний реестр.
type WithdrawalStatus string

const (
	WithdrawalStatusPending WithdrawalStatus = "pending"
	WithdrawalStatusSent    WithdrawalStatus = "sent"
	WithdrawalStatusFailed  WithdrawalStatus = "failed"
)

// Withdrawal описывает факт списания коинов с выгрузкой во внешний реестр.
type Withdrawal struct {
	ID          uuid.UUID
	UserID      int64
	Amount      int64
	Destination string
	Status      WithdrawalStatus
	CreatedAt   time.Time
}
