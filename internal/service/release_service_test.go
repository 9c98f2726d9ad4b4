package service

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/payout"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

type mockReleaseEscrow struct {
	mock.Mock
}

func (m *mockReleaseEscrow) CommitRelease(ctx context.Context, c repository.ReleaseCommit) (*models.Transaction, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockReleaseEscrow) CompleteTransaction(ctx context.Context, transactionID uuid.UUID, providerRef string) error {
	args := m.Called(ctx, transactionID, providerRef)
	return args.Error(0)
}

func (m *mockReleaseEscrow) RevertRelease(ctx context.Context, c repository.ReleaseCommit, transactionID uuid.UUID, reason string) error {
	args := m.Called(ctx, c, transactionID, reason)
	return args.Error(0)
}

func (m *mockReleaseEscrow) RevertPayoutShare(ctx context.Context, projectID uuid.UUID, transactionID uuid.UUID, share int64, reason string) error {
	args := m.Called(ctx, projectID, transactionID, share, reason)
	return args.Error(0)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type mockPayoutProvider struct {
	mock.Mock
}

func (m *mockPayoutProvider) Transfer(ctx context.Context, accountRef string, amount int64, currency, reference string) (*payout.Transfer, error) {
	args := m.Called(ctx, accountRef, amount, currency, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Transfer), args.Error(1)
}

func releaseFixtures() (*models.Project, *models.Milestone, *models.User) {
	clientID := uuid.New()
	freelancerID := uuid.New()
	accountRef := "acct_123"

	project := &models.Project{
		ID:           uuid.New(),
		ClientID:     clientID,
		FreelancerID: &freelancerID,
		Currency:     "RUB",
	}
	m := &models.Milestone{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Amount:    5000,
		Currency:  "RUB",
		Status:    models.MilestoneStatusSubmitted,
	}
	freelancer := &models.User{
		ID:               freelancerID,
		Role:             models.RoleFreelancer,
		PayoutAccountRef: &accountRef,
	}
	return project, m, freelancer
}

func TestReleaseService_PlatformFee(t *testing.T) {
	svc := NewReleaseService(nil, nil, nil, 250)

	assert.Equal(t, int64(125), svc.PlatformFee(5000))
	assert.Equal(t, int64(0), svc.PlatformFee(39)) // округление вниз
	assert.Equal(t, int64(2), svc.PlatformFee(100))
}

func TestReleaseService_Release_Success(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	project, m, freelancer := releaseFixtures()
	actorID := project.ClientID
	transaction := &models.Transaction{
		ID:     uuid.New(),
		Amount: 4875,
		Status: models.TransactionStatusPending,
	}

	users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)
	escrow.On("CommitRelease", ctx, mock.MatchedBy(func(c repository.ReleaseCommit) bool {
		return c.Amount == 5000 && c.NetAmount == 4875 && c.MilestoneID == m.ID
	})).Return(transaction, nil)
	provider.On("Transfer", ctx, "acct_123", int64(4875), "RUB", transaction.ID.String()).
		Return(&payout.Transfer{ProviderTxID: "prov_1", Amount: 4875, Status: "success"}, nil)
	escrow.On("CompleteTransaction", ctx, transaction.ID, "prov_1").Return(nil)

	got, err := svc.Release(ctx, project, m, models.MilestoneStatusSubmitted, &actorID, "milestone.approved")
	assert.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, got.Status)
	assert.Equal(t, "prov_1", *got.ProviderRef)
	escrow.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestReleaseService_Release_PayoutAccountMissing(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	project, m, freelancer := releaseFixtures()
	freelancer.PayoutAccountRef = nil
	users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)

	_, err := svc.Release(ctx, project, m, models.MilestoneStatusSubmitted, nil, "milestone.approved")
	assert.ErrorIs(t, err, apperror.ErrPayoutAccountMissing)

	// Без счёта леджер и провайдер не трогаются.
	escrow.AssertNotCalled(t, "CommitRelease", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseService_Release_AlreadyCommitted(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	project, m, freelancer := releaseFixtures()
	users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)
	escrow.On("CommitRelease", ctx, mock.Anything).Return(nil, repository.ErrAlreadyCommitted)

	got, err := svc.Release(ctx, project, m, models.MilestoneStatusSubmitted, nil, "milestone.approved")
	assert.NoError(t, err)
	assert.Nil(t, got)
	provider.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseService_Release_InsufficientEscrow(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	project, m, freelancer := releaseFixtures()
	users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)
	escrow.On("CommitRelease", ctx, mock.Anything).Return(nil, repository.ErrInsufficientEscrow)

	_, err := svc.Release(ctx, project, m, models.MilestoneStatusSubmitted, nil, "milestone.approved")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "недостаточно средств")
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeInvalidState, code)
	provider.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseService_Release_ProviderFailureRevertsCommit(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	project, m, freelancer := releaseFixtures()
	transaction := &models.Transaction{ID: uuid.New(), Amount: 4875, Status: models.TransactionStatusPending}

	users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)
	escrow.On("CommitRelease", ctx, mock.Anything).Return(transaction, nil)
	provider.On("Transfer", ctx, "acct_123", int64(4875), "RUB", transaction.ID.String()).
		Return(nil, errors.New("insufficient provider balance"))
	escrow.On("RevertRelease", ctx, mock.Anything, transaction.ID, "insufficient provider balance").Return(nil)

	_, err := svc.Release(ctx, project, m, models.MilestoneStatusSubmitted, nil, "milestone.approved")
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeProviderFailure, code)
	escrow.AssertExpectations(t)
}

func TestReleaseService_ExecutePayout_ProviderFailureRevertsShare(t *testing.T) {
	escrow := new(mockReleaseEscrow)
	users := new(mockUserRepo)
	provider := new(mockPayoutProvider)
	svc := NewReleaseService(escrow, users, provider, 250)
	ctx := context.Background()

	projectID := uuid.New()
	transaction := &models.Transaction{ID: uuid.New(), Amount: 3000, Status: models.TransactionStatusPending}

	provider.On("Transfer", ctx, "acct_9", int64(3000), "RUB", transaction.ID.String()).
		Return(nil, payout.ErrTransferDeclined)
	escrow.On("RevertPayoutShare", ctx, projectID, transaction.ID, int64(3000), payout.ErrTransferDeclined.Error()).Return(nil)

	err := svc.ExecutePayout(ctx, projectID, transaction, "acct_9", "RUB")
	assert.Error(t, err)
	escrow.AssertExpectations(t)
}
