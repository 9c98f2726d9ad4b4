package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/payout"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// ReleaseEscrowRepository описывает денежную единицу работы.
type ReleaseEscrowRepository interface {
	CommitRelease(ctx context.Context, c repository.ReleaseCommit) (*models.Transaction, error)
	CompleteTransaction(ctx context.Context, transactionID uuid.UUID, providerRef string) error
	RevertRelease(ctx context.Context, c repository.ReleaseCommit, transactionID uuid.UUID, reason string) error
	RevertPayoutShare(ctx context.Context, projectID uuid.UUID, transactionID uuid.UUID, share int64, reason string) error
}

// ReleaseUserRepository описывает зависимость от пользователей.
type ReleaseUserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// PayoutProvider описывает платёжного провайдера.
type PayoutProvider interface {
	Transfer(ctx context.Context, accountRef string, amount int64, currency, reference string) (*payout.Transfer, error)
}

// ReleaseService выполняет выплату по вехе: считает комиссию платформы,
// фиксирует движение средств в леджере и вызывает провайдера. Леджер —
// источник истины: при отказе провайдера фиксация откатывается.
type ReleaseService struct {
	escrow     ReleaseEscrowRepository
	users      ReleaseUserRepository
	provider   PayoutProvider
	feeRateBps int64
}

// NewReleaseService создаёт сервис выплат.
func NewReleaseService(escrow ReleaseEscrowRepository, users ReleaseUserRepository, provider PayoutProvider, feeRateBps int64) *ReleaseService {
	return &ReleaseService{
		escrow:     escrow,
		users:      users,
		provider:   provider,
		feeRateBps: feeRateBps,
	}
}

// PlatformFee считает комиссию платформы в минорных единицах.
// Целочисленное деление: комиссия округляется вниз, остаток копейки
// достаётся фрилансеру.
func (s *ReleaseService) PlatformFee(amount int64) int64 {
	return amount * s.feeRateBps / 10000
}

// Release фиксирует приёмку вехи и выплачивает фрилансеру сумму за вычетом
// комиссии. Повторный вызов по уже принятой вехе — no-op: возвращается
// (nil, nil), новых транзакций не создаётся.
func (s *ReleaseService) Release(ctx context.Context, project *models.Project, m *models.Milestone, fromStatus string, actorID *uuid.UUID, action string) (*models.Transaction, error) {
	if project.FreelancerID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "на проект не назначен фрилансер")
	}

	freelancer, err := s.users.GetByID(ctx, *project.FreelancerID)
	if err != nil {
		return nil, err
	}
	// Проверяем счёт до каких-либо изменений: без счёта выплата невозможна,
	// леджер и статусы остаются нетронутыми.
	if freelancer.PayoutAccountRef == nil || *freelancer.PayoutAccountRef == "" {
		return nil, apperror.ErrPayoutAccountMissing
	}

	fee := s.PlatformFee(m.Amount)
	net := m.Amount - fee

	commit := repository.ReleaseCommit{
		ProjectID:   project.ID,
		MilestoneID: m.ID,
		FromStatus:  fromStatus,
		Amount:      m.Amount,
		NetAmount:   net,
		ToUserID:    freelancer.ID,
		ActorID:     actorID,
		Action:      action,
	}

	transaction, err := s.escrow.CommitRelease(ctx, commit)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyCommitted) {
			return nil, nil
		}
		if errors.Is(err, repository.ErrInsufficientEscrow) {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidState, "в эскроу недостаточно средств для выплаты")
		}
		return nil, err
	}

	transfer, err := s.provider.Transfer(ctx, *freelancer.PayoutAccountRef, net, m.Currency, transaction.ID.String())
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"milestone_id":   m.ID,
			"transaction_id": transaction.ID,
			"error":          err.Error(),
		}).Error("release service: провайдер отклонил перевод, откатываем фиксацию")

		if revertErr := s.escrow.RevertRelease(ctx, commit, transaction.ID, err.Error()); revertErr != nil {
			logger.Log.WithError(revertErr).WithField("transaction_id", transaction.ID).
				Error("release service: не удалось откатить фиксацию")
			return nil, revertErr
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeProviderFailure, "платёжный провайдер отклонил перевод")
	}

	if err := s.escrow.CompleteTransaction(ctx, transaction.ID, transfer.ProviderTxID); err != nil {
		return nil, err
	}

	transaction.Status = models.TransactionStatusCompleted
	transaction.ProviderRef = &transfer.ProviderTxID
	return transaction, nil
}

// ExecutePayout проводит уже зафиксированную в леджере выплату доли спора.
// При отказе провайдера доля возвращается в эскроу, транзакция помечается
// failed; само решение по спору неизменно.
func (s *ReleaseService) ExecutePayout(ctx context.Context, projectID uuid.UUID, transaction *models.Transaction, accountRef, currency string) error {
	transfer, err := s.provider.Transfer(ctx, accountRef, transaction.Amount, currency, transaction.ID.String())
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"project_id":     projectID,
			"transaction_id": transaction.ID,
			"error":          err.Error(),
		}).Error("release service: провайдер отклонил выплату по спору")

		if revertErr := s.escrow.RevertPayoutShare(ctx, projectID, transaction.ID, transaction.Amount, err.Error()); revertErr != nil {
			return revertErr
		}
		return apperror.Wrap(err, apperror.ErrCodeProviderFailure, "платёжный провайдер отклонил перевод")
	}

	return s.escrow.CompleteTransaction(ctx, transaction.ID, transfer.ProviderTxID)
}
