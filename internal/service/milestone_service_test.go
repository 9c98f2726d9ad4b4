package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/moderation"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

type mockMilestoneRepo struct {
	mock.Mock
}

func (m *mockMilestoneRepo) Create(ctx context.Context, ms *models.Milestone) error {
	args := m.Called(ctx, ms)
	return args.Error(0)
}

func (m *mockMilestoneRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

func (m *mockMilestoneRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Milestone, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Milestone), args.Error(1)
}

func (m *mockMilestoneRepo) SumAmountsByProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMilestoneRepo) MarkStarted(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockMilestoneRepo) SaveSubmission(ctx context.Context, id uuid.UUID, notes *string, deliverables []models.Deliverable) (bool, error) {
	args := m.Called(ctx, id, notes, deliverables)
	return args.Bool(0), args.Error(1)
}

func (m *mockMilestoneRepo) SaveRevisionRequest(ctx context.Context, rev *models.RevisionRequest) (bool, error) {
	args := m.Called(ctx, rev)
	return args.Bool(0), args.Error(1)
}

func (m *mockMilestoneRepo) ListAutoApprovable(ctx context.Context, now time.Time) ([]models.Milestone, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Milestone), args.Error(1)
}

type mockProjectRepo struct {
	mock.Mock
}

func (m *mockProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

type mockMediaRepo struct {
	mock.Mock
}

func (m *mockMediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MediaFile), args.Error(1)
}

type mockReleaser struct {
	mock.Mock
}

func (m *mockReleaser) Release(ctx context.Context, project *models.Project, ms *models.Milestone, fromStatus string, actorID *uuid.UUID, action string) (*models.Transaction, error) {
	args := m.Called(ctx, project, ms, fromStatus, actorID, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type mockModerator struct {
	mock.Mock
}

func (m *mockModerator) ReviewText(ctx context.Context, text string) (*moderation.Result, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*moderation.Result), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	m.Called(ctx, userID, event, data)
}

type mockActivityRepo struct {
	mock.Mock
}

func (m *mockActivityRepo) Add(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) error {
	args := m.Called(ctx, projectID, actorID, action, metadata)
	return args.Error(0)
}

func (m *mockActivityRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.ActivityLogEntry, error) {
	args := m.Called(ctx, projectID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ActivityLogEntry), args.Error(1)
}

type mockFraudProjects struct {
	mock.Mock
}

func (m *mockFraudProjects) CountByClientSince(ctx context.Context, clientID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, clientID, since)
	return args.Int(0), args.Error(1)
}

type mockFraudTxs struct {
	mock.Mock
}

func (m *mockFraudTxs) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}

func (m *mockFraudTxs) AverageAmountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type mockFraudDisputes struct {
	mock.Mock
}

func (m *mockFraudDisputes) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}

// permissivePolicy — пороги, которые обычная активность не пересекает.
func permissivePolicy() config.FraudPolicy {
	return config.FraudPolicy{
		NewAccountAge:         time.Hour,
		FailedLoginThreshold:  100,
		ProjectVelocity7d:     100,
		TxVelocity24h:         100,
		AmountSpikeMultiplier: 100,
		FastDisputeWindow:     time.Second,
		MinReasonLength:       1,
		DisputeFrequency30d:   100,
		MediumScore:           40,
		HighScore:             60,
		CriticalScore:         80,
		BlockLevel:            "critical",
	}
}

// calmFraudService возвращает фрод-сервис, который для actor даёт низкий риск.
func calmFraudService(actor *models.User) (*FraudService, *mockUserRepo) {
	users := new(mockUserRepo)
	projects := new(mockFraudProjects)
	txs := new(mockFraudTxs)
	disputes := new(mockFraudDisputes)

	users.On("GetByID", mock.Anything, actor.ID).Return(actor, nil).Maybe()
	projects.On("CountByClientSince", mock.Anything, actor.ID, mock.Anything).Return(0, nil).Maybe()
	txs.On("CountByUserSince", mock.Anything, actor.ID, mock.Anything).Return(0, nil).Maybe()
	txs.On("AverageAmountByUser", mock.Anything, actor.ID).Return(int64(0), nil).Maybe()
	disputes.On("CountByUserSince", mock.Anything, actor.ID, mock.Anything).Return(0, nil).Maybe()

	return NewFraudService(users, projects, txs, disputes, permissivePolicy()), users
}

func milestoneFixtures() (*models.User, *models.User, *models.Project, *models.Milestone) {
	client := &models.User{
		ID:        uuid.New(),
		Role:      models.RoleClient,
		CreatedAt: time.Now().Add(-365 * 24 * time.Hour),
	}
	freelancer := &models.User{
		ID:        uuid.New(),
		Role:      models.RoleFreelancer,
		CreatedAt: time.Now().Add(-365 * 24 * time.Hour),
	}
	project := &models.Project{
		ID:            uuid.New(),
		ClientID:      client.ID,
		FreelancerID:  &freelancer.ID,
		Budget:        100000,
		Currency:      "RUB",
		Status:        models.ProjectStatusInProgress,
		EscrowAccount: models.EscrowAccount{TotalHeld: 50000, Remaining: 50000},
	}
	m := &models.Milestone{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Title:     "Первый этап",
		Amount:    20000,
		Currency:  "RUB",
		Status:    models.MilestoneStatusPending,
	}
	return client, freelancer, project, m
}

func newMilestoneServiceForTest(actor *models.User) (*MilestoneService, *mockMilestoneRepo, *mockProjectRepo, *mockReleaser, *mockNotifier, *mockActivityRepo) {
	milestones := new(mockMilestoneRepo)
	projects := new(mockProjectRepo)
	media := new(mockMediaRepo)
	releaser := new(mockReleaser)
	moderator := new(mockModerator)
	notifier := new(mockNotifier)
	activity := new(mockActivityRepo)
	fraudSvc, _ := calmFraudService(actor)

	activity.On("Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	moderator.On("ReviewText", mock.Anything, mock.Anything).Return(&moderation.Result{IsFlagged: false}, nil).Maybe()

	svc := NewMilestoneService(milestones, projects, media, releaser, moderator, notifier, activity, fraudSvc)
	return svc, milestones, projects, releaser, notifier, activity
}

func TestMilestoneService_Create_ExceedsBudget(t *testing.T) {
	client, _, project, _ := milestoneFixtures()
	svc, milestones, projects, _, _, _ := newMilestoneServiceForTest(client)
	ctx := context.Background()

	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	milestones.On("SumAmountsByProject", ctx, project.ID).Return(int64(90000), nil)

	_, err := svc.Create(ctx, client, project.ID, CreateMilestoneInput{
		Title:  "Финальный этап",
		Amount: 20000,
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "превышает бюджет")
	milestones.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMilestoneService_Start_NotAssignedFreelancer(t *testing.T) {
	client, _, project, m := milestoneFixtures()
	stranger := &models.User{ID: uuid.New(), Role: models.RoleFreelancer, CreatedAt: client.CreatedAt}
	svc, milestones, projects, _, _, _ := newMilestoneServiceForTest(stranger)
	ctx := context.Background()

	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := svc.Start(ctx, stranger, m.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestMilestoneService_Start_InsufficientEscrow(t *testing.T) {
	_, freelancer, project, m := milestoneFixtures()
	project.EscrowAccount.Remaining = m.Amount - 1
	svc, milestones, projects, _, _, _ := newMilestoneServiceForTest(freelancer)
	ctx := context.Background()

	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := svc.Start(ctx, freelancer, m.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "эскроу не покрывает")
	milestones.AssertNotCalled(t, "MarkStarted", mock.Anything, mock.Anything)
}

func TestMilestoneService_Submit_NotesOnlyAccepted(t *testing.T) {
	_, freelancer, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusInProgress
	svc, milestones, projects, _, _, _ := newMilestoneServiceForTest(freelancer)
	ctx := context.Background()

	submitted := &models.Milestone{ID: m.ID, ProjectID: project.ID, Status: models.MilestoneStatusSubmitted}

	milestones.On("GetByID", ctx, m.ID).Return(m, nil).Once()
	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	milestones.On("SaveSubmission", ctx, m.ID, mock.Anything, mock.Anything).Return(true, nil)
	milestones.On("GetByID", ctx, m.ID).Return(submitted, nil).Once()

	// Сдача одними заметками, без приложенных файлов, допустима.
	got, err := svc.Submit(ctx, freelancer, m.ID, "Работа выложена на демо-стенд, доступы в чате", nil)
	assert.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusSubmitted, got.Status)
	milestones.AssertExpectations(t)
}

func TestMilestoneService_Submit_EmptySubmissionRejected(t *testing.T) {
	_, freelancer, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusInProgress
	svc, milestones, projects, _, _, _ := newMilestoneServiceForTest(freelancer)
	ctx := context.Background()

	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := svc.Submit(ctx, freelancer, m.ID, "   ", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "пустая сдача")
	milestones.AssertNotCalled(t, "SaveSubmission", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMilestoneService_Approve_AlreadyApproved(t *testing.T) {
	client, _, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusApproved
	svc, milestones, projects, releaser, _, _ := newMilestoneServiceForTest(client)
	ctx := context.Background()

	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	got, transaction, err := svc.Approve(ctx, client, m.ID)
	assert.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Nil(t, transaction)
	releaser.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMilestoneService_Approve_NotSubmitted(t *testing.T) {
	client, _, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusInProgress
	svc, milestones, projects, releaser, _, _ := newMilestoneServiceForTest(client)
	ctx := context.Background()

	milestones.On("GetByID", ctx, m.ID).Return(m, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, _, err := svc.Approve(ctx, client, m.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "принять можно только сданную веху")
	releaser.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMilestoneService_Approve_Success(t *testing.T) {
	client, _, project, m := milestoneFixtures()
	m.Status = models.MilestoneStatusSubmitted
	svc, milestones, projects, releaser, _, _ := newMilestoneServiceForTest(client)
	ctx := context.Background()

	transaction := &models.Transaction{ID: uuid.New(), Status: models.TransactionStatusCompleted}
	approved := &models.Milestone{ID: m.ID, ProjectID: project.ID, Status: models.MilestoneStatusApproved}

	milestones.On("GetByID", ctx, m.ID).Return(m, nil).Once()
	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	releaser.On("Release", ctx, project, m, models.MilestoneStatusSubmitted, &client.ID, "milestone.approved").
		Return(transaction, nil)
	milestones.On("GetByID", ctx, m.ID).Return(approved, nil).Once()

	got, gotTx, err := svc.Approve(ctx, client, m.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusApproved, got.Status)
	assert.Equal(t, transaction, gotTx)
	releaser.AssertExpectations(t)
}

func TestMilestoneService_AutoApproveDue_ContinuesAfterError(t *testing.T) {
	_, _, project, m := milestoneFixtures()
	svc, milestones, projects, releaser, _, _ := newMilestoneServiceForTest(&models.User{ID: uuid.New()})
	ctx := context.Background()
	now := time.Now()

	first := *m
	first.Status = models.MilestoneStatusSubmitted
	second := *m
	second.ID = uuid.New()
	second.Status = models.MilestoneStatusSubmitted

	milestones.On("ListAutoApprovable", ctx, now).Return([]models.Milestone{first, second}, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	releaser.On("Release", ctx, project, &first, models.MilestoneStatusSubmitted, (*uuid.UUID)(nil), "milestone.auto_approved").
		Return(nil, apperror.New(apperror.ErrCodeProviderFailure, "платёжный провайдер отклонил перевод")).Once()
	releaser.On("Release", ctx, project, &second, models.MilestoneStatusSubmitted, (*uuid.UUID)(nil), "milestone.auto_approved").
		Return(&models.Transaction{ID: uuid.New()}, nil).Once()

	svc.AutoApproveDue(ctx, now)
	releaser.AssertExpectations(t)
}

func TestMilestoneService_AutoApproveDue_ManualApprovalWinsNoNotification(t *testing.T) {
	_, _, project, m := milestoneFixtures()
	svc, milestones, projects, releaser, notifier, _ := newMilestoneServiceForTest(&models.User{ID: uuid.New()})
	ctx := context.Background()
	now := time.Now()

	due := *m
	due.Status = models.MilestoneStatusSubmitted

	milestones.On("ListAutoApprovable", ctx, now).Return([]models.Milestone{due}, nil)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	// Ручная приёмка выиграла гонку: релиз — no-op без транзакции.
	releaser.On("Release", ctx, project, &due, models.MilestoneStatusSubmitted, (*uuid.UUID)(nil), "milestone.auto_approved").
		Return(nil, nil)

	svc.AutoApproveDue(ctx, now)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
