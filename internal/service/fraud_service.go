package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/fraud"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// FraudUserRepository описывает зависимость фрод-сервиса от пользователей.
type FraudUserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// FraudProjectRepository описывает зависимость от проектов.
type FraudProjectRepository interface {
	CountByClientSince(ctx context.Context, clientID uuid.UUID, since time.Time) (int, error)
}

// FraudTransactionRepository описывает зависимость от журнала транзакций.
type FraudTransactionRepository interface {
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	AverageAmountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// FraudDisputeRepository описывает зависимость от споров.
type FraudDisputeRepository interface {
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// FraudService собирает историю пользователя из хранилища и передаёт её
// чистому скорингу. Политика порогов задаётся конфигурацией.
type FraudService struct {
	users    FraudUserRepository
	projects FraudProjectRepository
	txs      FraudTransactionRepository
	disputes FraudDisputeRepository
	policy   config.FraudPolicy
}

// NewFraudService создаёт фрод-сервис.
func NewFraudService(
	users FraudUserRepository,
	projects FraudProjectRepository,
	txs FraudTransactionRepository,
	disputes FraudDisputeRepository,
	policy config.FraudPolicy,
) *FraudService {
	return &FraudService{
		users:    users,
		projects: projects,
		txs:      txs,
		disputes: disputes,
		policy:   policy,
	}
}

// Policy возвращает действующую политику.
func (s *FraudService) Policy() config.FraudPolicy {
	return s.policy
}

// AssessPayment оценивает риск денежной операции пользователя на сумму amount.
func (s *FraudService) AssessPayment(ctx context.Context, userID uuid.UUID, amount int64) (fraud.Assessment, error) {
	in, err := s.baseInput(ctx, userID)
	if err != nil {
		return fraud.Assessment{}, err
	}

	in.LastTxAmount = amount
	avg, err := s.txs.AverageAmountByUser(ctx, userID)
	if err != nil {
		return fraud.Assessment{}, err
	}
	in.AvgTxAmount = avg

	return fraud.Score(in, s.policy), nil
}

// AssessDispute оценивает риск подачи спора. submittedAt — момент сдачи
// вехи, если веха была сдана.
func (s *FraudService) AssessDispute(ctx context.Context, userID uuid.UUID, reason string, submittedAt *time.Time) (fraud.Assessment, error) {
	in, err := s.baseInput(ctx, userID)
	if err != nil {
		return fraud.Assessment{}, err
	}

	in.DisputeReason = reason
	if submittedAt != nil {
		delay := in.Now.Sub(*submittedAt)
		in.DisputeDelay = &delay
	}

	disputes30d, err := s.disputes.CountByUserSince(ctx, userID, in.Now.Add(-30*24*time.Hour))
	if err != nil {
		return fraud.Assessment{}, err
	}
	in.DisputesLast30d = disputes30d

	return fraud.Score(in, s.policy), nil
}

// baseInput собирает сигналы, общие для всех операций.
func (s *FraudService) baseInput(ctx context.Context, userID uuid.UUID) (fraud.Input, error) {
	now := time.Now()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fraud.Input{}, err
	}

	projects7d, err := s.projects.CountByClientSince(ctx, userID, now.Add(-7*24*time.Hour))
	if err != nil {
		return fraud.Input{}, err
	}

	tx24h, err := s.txs.CountByUserSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return fraud.Input{}, err
	}

	return fraud.Input{
		AccountCreatedAt: user.CreatedAt,
		FailedLoginCount: user.FailedLoginCount,
		ProjectsLast7d:   projects7d,
		TxLast24h:        tx24h,
		Now:              now,
	}, nil
}
