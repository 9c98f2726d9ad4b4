package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/ai"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/moderation"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetOpenByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Dispute, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) SaveReview(ctx context.Context, id uuid.UUID, review *models.AutoReview) error {
	args := m.Called(ctx, id, review)
	return args.Error(0)
}

func (m *mockDisputeRepo) AdvanceStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus, phase string, mediatorID, arbitratorID *uuid.UUID) (bool, error) {
	args := m.Called(ctx, id, fromStatus, toStatus, phase, mediatorID, arbitratorID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDisputeRepo) AddEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type mockDisputeMilestones struct {
	mock.Mock
}

func (m *mockDisputeMilestones) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

type mockResolutionEscrow struct {
	mock.Mock
}

func (m *mockResolutionEscrow) CommitResolution(ctx context.Context, c repository.ResolutionCommit) (*models.Transaction, *models.Transaction, error) {
	args := m.Called(ctx, c)
	var payment, refund *models.Transaction
	if args.Get(0) != nil {
		payment = args.Get(0).(*models.Transaction)
	}
	if args.Get(1) != nil {
		refund = args.Get(1).(*models.Transaction)
	}
	return payment, refund, args.Error(2)
}

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) Configured() bool {
	return m.Called().Bool(0)
}

func (m *mockReviewer) ReviewDispute(ctx context.Context, dc ai.DisputeContext) (*ai.ReviewResult, error) {
	args := m.Called(ctx, dc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.ReviewResult), args.Error(1)
}

type mockPayoutExecutor struct {
	mock.Mock
}

func (m *mockPayoutExecutor) ExecutePayout(ctx context.Context, projectID uuid.UUID, transaction *models.Transaction, accountRef, currency string) error {
	args := m.Called(ctx, projectID, transaction, accountRef, currency)
	return args.Error(0)
}

type disputeTestEnv struct {
	svc        *DisputeService
	disputes   *mockDisputeRepo
	milestones *mockDisputeMilestones
	projects   *mockProjectRepo
	users      *mockUserRepo
	escrow     *mockResolutionEscrow
	reviewer   *mockReviewer
	executor   *mockPayoutExecutor
	moderator  *mockModerator
}

func newDisputeServiceForTest(actor *models.User) *disputeTestEnv {
	env := &disputeTestEnv{
		disputes:   new(mockDisputeRepo),
		milestones: new(mockDisputeMilestones),
		projects:   new(mockProjectRepo),
		users:      new(mockUserRepo),
		escrow:     new(mockResolutionEscrow),
		reviewer:   new(mockReviewer),
		executor:   new(mockPayoutExecutor),
		moderator:  new(mockModerator),
	}

	notifier := new(mockNotifier)
	activity := new(mockActivityRepo)
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	activity.On("Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	fraudSvc, _ := calmFraudService(actor)
	env.svc = NewDisputeService(
		env.disputes, env.milestones, env.projects, env.users, env.escrow,
		env.reviewer, env.executor, env.moderator, notifier, activity,
		fraudSvc, 0.85,
	)
	return env
}

func disputeFixtures() (*models.User, *models.User, *models.Project, *models.Milestone, *models.Dispute) {
	client, freelancer, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusSubmitted
	submittedAt := time.Now().Add(-48 * time.Hour)
	m.SubmittedAt = &submittedAt

	dispute := &models.Dispute{
		ID:          uuid.New(),
		ProjectID:   project.ID,
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      "результат не соответствует критериям приёмки",
		Status:      models.DisputeStatusInMediation,
		Phase:       models.DisputePhaseMediation,
	}
	return client, freelancer, project, m, dispute
}

func TestDisputeService_Open_MilestoneNotDisputable(t *testing.T) {
	client, _, project, m, _ := disputeFixtures()
	m.Status = models.MilestoneStatusDisputed
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := env.svc.Open(ctx, client, m.ID, "результат не соответствует критериям приёмки")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "спор открыть нельзя")
	env.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_Open_SecondDisputeRejected(t *testing.T) {
	client, _, project, m, dispute := disputeFixtures()
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.disputes.On("GetOpenByMilestone", ctx, m.ID).Return(dispute, nil)

	_, err := env.svc.Open(ctx, client, m.ID, "результат не соответствует критериям приёмки")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "уже открыт спор")
	env.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_Open_Success(t *testing.T) {
	client, _, project, m, _ := disputeFixtures()
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.disputes.On("GetOpenByMilestone", ctx, m.ID).Return(nil, repository.ErrDisputeNotFound)
	env.moderator.On("ReviewText", ctx, mock.Anything).Return(&moderation.Result{IsFlagged: false}, nil)
	env.disputes.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).Return(nil)

	dispute, err := env.svc.Open(ctx, client, m.ID, "результат не соответствует критериям приёмки")
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusPendingReview, dispute.Status)
	assert.Equal(t, models.DisputePhaseAutoReview, dispute.Phase)
	assert.Equal(t, client.ID, dispute.RaisedBy)
	env.disputes.AssertExpectations(t)
}

func TestDisputeService_Open_ApprovalWinsRace(t *testing.T) {
	client, _, project, m, _ := disputeFixtures()
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.disputes.On("GetOpenByMilestone", ctx, m.ID).Return(nil, repository.ErrDisputeNotFound)
	env.moderator.On("ReviewText", ctx, mock.Anything).Return(&moderation.Result{IsFlagged: false}, nil)
	// Между проверкой статуса и созданием спора веху успели принять:
	// CAS по вехе промахивается, спор не открывается.
	env.disputes.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).
		Return(repository.ErrMilestoneNotDisputable)

	_, err := env.svc.Open(ctx, client, m.ID, "результат не соответствует критериям приёмки")
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeInvalidState, code)
	assert.Contains(t, err.Error(), "спор открыть нельзя")
}

func TestDisputeService_Open_FlaggedReasonRejected(t *testing.T) {
	client, _, project, m, _ := disputeFixtures()
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.disputes.On("GetOpenByMilestone", ctx, m.ID).Return(nil, repository.ErrDisputeNotFound)
	env.moderator.On("ReviewText", ctx, mock.Anything).Return(&moderation.Result{IsFlagged: true}, nil)

	_, err := env.svc.Open(ctx, client, m.ID, "оскорбительная причина достаточной длины")
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeContentRejected, code)
	env.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_RunAutoReview_UnconfiguredReviewerMovesToMediation(t *testing.T) {
	client, _, _, m, dispute := disputeFixtures()
	dispute.Status = models.DisputeStatusPendingReview
	dispute.Phase = models.DisputePhaseAutoReview
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.reviewer.On("Configured").Return(false)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusPendingReview, models.DisputeStatusInMediation,
		models.DisputePhaseMediation, (*uuid.UUID)(nil), (*uuid.UUID)(nil)).Return(true, nil)

	err := env.svc.RunAutoReview(ctx, dispute.ID)
	assert.NoError(t, err)
	env.disputes.AssertExpectations(t)
}

func TestDisputeService_RunAutoReview_LowConfidenceMovesToMediation(t *testing.T) {
	client, _, _, m, dispute := disputeFixtures()
	dispute.Status = models.DisputeStatusPendingReview
	dispute.Phase = models.DisputePhaseAutoReview
	env := newDisputeServiceForTest(client)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.reviewer.On("Configured").Return(true)
	env.reviewer.On("ReviewDispute", ctx, mock.Anything).Return(&ai.ReviewResult{
		Decision:           models.ResolutionDecisionSplit,
		AmountToFreelancer: m.Amount / 2,
		AmountToClient:     m.Amount - m.Amount/2,
		ConfidenceScore:    0.4,
		Reasoning:          "недостаточно материалов",
	}, nil)
	env.disputes.On("SaveReview", ctx, dispute.ID, mock.AnythingOfType("*models.AutoReview")).Return(nil)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusPendingReview, models.DisputeStatusInMediation,
		models.DisputePhaseMediation, (*uuid.UUID)(nil), (*uuid.UUID)(nil)).Return(true, nil)

	err := env.svc.RunAutoReview(ctx, dispute.ID)
	assert.NoError(t, err)
	env.escrow.AssertNotCalled(t, "CommitResolution", mock.Anything, mock.Anything)
	env.disputes.AssertExpectations(t)
}

func TestDisputeService_AssignMediator_NonAdminForbidden(t *testing.T) {
	client, _, _, _, dispute := disputeFixtures()
	env := newDisputeServiceForTest(client)

	err := env.svc.AssignMediator(context.Background(), client, dispute.ID, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestDisputeService_Escalate_ByMediator(t *testing.T) {
	client, _, _, _, dispute := disputeFixtures()
	mediator := &models.User{ID: uuid.New(), Role: models.RoleMediator, CreatedAt: client.CreatedAt}
	dispute.MediatorID = &mediator.ID
	arbitratorID := uuid.New()
	env := newDisputeServiceForTest(mediator)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusInMediation, models.DisputeStatusEscalated,
		models.DisputePhaseArbitration, (*uuid.UUID)(nil), &arbitratorID).Return(true, nil)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusEscalated, models.DisputeStatusInArbitration,
		models.DisputePhaseArbitration, (*uuid.UUID)(nil), (*uuid.UUID)(nil)).Return(true, nil)

	err := env.svc.Escalate(ctx, mediator, dispute.ID, arbitratorID)
	assert.NoError(t, err)
	env.disputes.AssertExpectations(t)
}

func TestDisputeService_Escalate_FromPendingReview(t *testing.T) {
	client, _, _, _, dispute := disputeFixtures()
	dispute.Status = models.DisputeStatusPendingReview
	dispute.Phase = models.DisputePhaseAutoReview
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: client.CreatedAt}
	arbitratorID := uuid.New()
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusPendingReview, models.DisputeStatusEscalated,
		models.DisputePhaseArbitration, (*uuid.UUID)(nil), &arbitratorID).Return(true, nil)
	env.disputes.On("AdvanceStatus", ctx, dispute.ID,
		models.DisputeStatusEscalated, models.DisputeStatusInArbitration,
		models.DisputePhaseArbitration, (*uuid.UUID)(nil), (*uuid.UUID)(nil)).Return(true, nil)

	err := env.svc.Escalate(ctx, admin, dispute.ID, arbitratorID)
	assert.NoError(t, err)
	env.disputes.AssertExpectations(t)
}

func TestDisputeService_Escalate_ResolvedDispute(t *testing.T) {
	client, _, _, _, dispute := disputeFixtures()
	dispute.Status = models.DisputeStatusResolved
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: client.CreatedAt}
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)

	err := env.svc.Escalate(ctx, admin, dispute.ID, uuid.New())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "эскалировать")
	env.disputes.AssertNotCalled(t, "AdvanceStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_SharesMustMatchAmount(t *testing.T) {
	_, _, _, m, dispute := disputeFixtures()
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: time.Now().Add(-time.Hour * 24)}
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)

	_, err := env.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{
		Decision:           models.ResolutionDecisionSplit,
		AmountToFreelancer: m.Amount,
		AmountToClient:     1,
		Reason:             "ошибочное распределение",
	})
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeConservation, code)
	env.escrow.AssertNotCalled(t, "CommitResolution", mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_WrongMediatorForbidden(t *testing.T) {
	_, _, _, _, dispute := disputeFixtures()
	assigned := uuid.New()
	dispute.MediatorID = &assigned
	other := &models.User{ID: uuid.New(), Role: models.RoleMediator, CreatedAt: time.Now().Add(-time.Hour * 24)}
	env := newDisputeServiceForTest(other)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)

	_, err := env.svc.Resolve(ctx, other, dispute.ID, ResolveInput{
		Decision:           models.ResolutionDecisionRefund,
		AmountToFreelancer: 0,
		AmountToClient:     20000,
		Reason:             "работа не выполнена",
	})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestDisputeService_Resolve_FullReleaseToFreelancer(t *testing.T) {
	_, freelancer, project, m, dispute := disputeFixtures()
	accountRef := "acct_fl"
	freelancer.PayoutAccountRef = &accountRef
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: time.Now().Add(-time.Hour * 24)}
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	payment := &models.Transaction{ID: uuid.New(), Amount: m.Amount, Status: models.TransactionStatusPending}
	resolved := &models.Dispute{ID: dispute.ID, Status: models.DisputeStatusResolved}

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil).Once()
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.users.On("GetByID", ctx, freelancer.ID).Return(freelancer, nil)
	env.escrow.On("CommitResolution", ctx, mock.MatchedBy(func(c repository.ResolutionCommit) bool {
		return c.MilestoneStatus == models.MilestoneStatusApproved &&
			c.Resolution.AmountToFreelancer == m.Amount &&
			c.Resolution.AmountToClient == 0
	})).Return(payment, nil, nil)
	env.executor.On("ExecutePayout", ctx, project.ID, payment, accountRef, m.Currency).Return(nil)
	env.disputes.On("GetByID", ctx, dispute.ID).Return(resolved, nil).Once()

	got, err := env.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{
		Decision:           models.ResolutionDecisionRelease,
		AmountToFreelancer: m.Amount,
		AmountToClient:     0,
		Reason:             "работа выполнена по критериям",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, got.Status)
	env.escrow.AssertExpectations(t)
	env.executor.AssertExpectations(t)
}

func TestDisputeService_Resolve_MilestoneLeftDisputedState(t *testing.T) {
	_, _, project, m, dispute := disputeFixtures()
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: time.Now().Add(-time.Hour * 24)}
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.escrow.On("CommitResolution", ctx, mock.Anything).
		Return(nil, nil, repository.ErrMilestoneNotDisputable)

	_, err := env.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{
		Decision:           models.ResolutionDecisionRefund,
		AmountToFreelancer: 0,
		AmountToClient:     m.Amount,
		Reason:             "работа не соответствует критериям",
	})
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeInvalidState, code)
	env.executor.AssertNotCalled(t, "ExecutePayout", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_RefundSkipsProvider(t *testing.T) {
	_, _, project, m, dispute := disputeFixtures()
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin, CreatedAt: time.Now().Add(-time.Hour * 24)}
	env := newDisputeServiceForTest(admin)
	ctx := context.Background()

	refund := &models.Transaction{ID: uuid.New(), Amount: m.Amount, Status: models.TransactionStatusCompleted}
	resolved := &models.Dispute{ID: dispute.ID, Status: models.DisputeStatusResolved}

	env.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil).Once()
	env.milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	env.projects.On("GetByID", ctx, project.ID).Return(project, nil)
	env.escrow.On("CommitResolution", ctx, mock.MatchedBy(func(c repository.ResolutionCommit) bool {
		return c.MilestoneStatus == models.MilestoneStatusRevisionRequested &&
			c.Resolution.AmountToClient == m.Amount
	})).Return(nil, refund, nil)
	env.disputes.On("GetByID", ctx, dispute.ID).Return(resolved, nil).Once()

	got, err := env.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{
		Decision:           models.ResolutionDecisionRefund,
		AmountToFreelancer: 0,
		AmountToClient:     m.Amount,
		Reason:             "работа не соответствует критериям",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, got.Status)

	// Возврат клиенту — внутреннее движение, провайдер не участвует.
	env.executor.AssertNotCalled(t, "ExecutePayout", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
