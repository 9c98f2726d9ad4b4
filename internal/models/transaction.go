package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы транзакций
const (
	TransactionTypeDeposit          = "deposit"
	TransactionTypeMilestoneRelease = "milestone_release"
	TransactionTypeDisputeRefund    = "dispute_refund"
	TransactionTypeDisputePayment   = "dispute_payment"
	TransactionTypeAdminAdjustment  = "admin_adjustment"
	TransactionTypeRefund           = "refund"
)

// Статусы транзакций
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
)

// Transaction — неизменяемая запись одного движения средств.
// Создаётся один раз; статус может перейти только pending -> completed|failed.
// From/To равны nil для движений со стороны платформы.
type Transaction struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ProjectID     uuid.UUID  `db:"project_id" json:"project_id"`
	MilestoneID   *uuid.UUID `db:"milestone_id" json:"milestone_id,omitempty"`
	Type          string     `db:"type" json:"type"`
	Amount        int64      `db:"amount" json:"amount"`
	FromUserID    *uuid.UUID `db:"from_user_id" json:"from_user_id,omitempty"`
	ToUserID      *uuid.UUID `db:"to_user_id" json:"to_user_id,omitempty"`
	Status        string     `db:"status" json:"status"`
	ProviderRef   *string    `db:"provider_ref" json:"provider_ref,omitempty"`
	FailureReason *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
