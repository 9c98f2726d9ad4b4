package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// MilestoneRepo описывает зависимость сервиса от хранилища вех.
type MilestoneRepo interface {
	Create(ctx context.Context, m *models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Milestone, error)
	SumAmountsByProject(ctx context.Context, projectID uuid.UUID) (int64, error)
	MarkStarted(ctx context.Context, id uuid.UUID) (bool, error)
	SaveSubmission(ctx context.Context, id uuid.UUID, notes *string, deliverables []models.Deliverable) (bool, error)
	SaveRevisionRequest(ctx context.Context, rev *models.RevisionRequest) (bool, error)
	ListAutoApprovable(ctx context.Context, now time.Time) ([]models.Milestone, error)
}

// MilestoneProjectRepo описывает доступ к проектам.
type MilestoneProjectRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// MilestoneMediaRepo описывает доступ к метаданным файлов.
type MilestoneMediaRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.MediaFile, error)
}

// Releaser фиксирует приёмку вехи и проводит выплату.
type Releaser interface {
	Release(ctx context.Context, project *models.Project, m *models.Milestone, fromStatus string, actorID *uuid.UUID, action string) (*models.Transaction, error)
}

// CreateMilestoneInput содержит данные новой вехи.
type CreateMilestoneInput struct {
	Title              string
	AcceptanceCriteria string
	Amount             int64
	DeadlineAt         *time.Time
}

// DeliverableInput — результат работы, прикладываемый к сдаче.
type DeliverableInput struct {
	MediaID uuid.UUID
	Note    *string
}

// MilestoneService содержит бизнес-логику цикла жизни вехи:
// создание, старт, сдача, доработка, приёмка и автоприёмка.
type MilestoneService struct {
	milestones MilestoneRepo
	projects   MilestoneProjectRepo
	media      MilestoneMediaRepo
	releaser   Releaser
	moderator  ContentModerator
	notifier   Notifier
	activity   ProjectActivityRepository
	fraud      *FraudService
}

// NewMilestoneService создаёт сервис вех.
func NewMilestoneService(
	milestones MilestoneRepo,
	projects MilestoneProjectRepo,
	media MilestoneMediaRepo,
	releaser Releaser,
	moderator ContentModerator,
	notifier Notifier,
	activity ProjectActivityRepository,
	fraudSvc *FraudService,
) *MilestoneService {
	return &MilestoneService{
		milestones: milestones,
		projects:   projects,
		media:      media,
		releaser:   releaser,
		moderator:  moderator,
		notifier:   notifier,
		activity:   activity,
		fraud:      fraudSvc,
	}
}

// Create добавляет веху в проект. Сумма всех вех не может превышать бюджет.
func (s *MilestoneService) Create(ctx context.Context, actor *models.User, projectID uuid.UUID, in CreateMilestoneInput) (*models.Milestone, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !project.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if project.Status == models.ProjectStatusCompleted || project.Status == models.ProjectStatusCancelled {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "проект закрыт")
	}

	if err := validation.ValidateLength("название вехи", in.Title, validation.MinMilestoneTitleLength, validation.MaxMilestoneTitleLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("критерии приёмки", in.AcceptanceCriteria, 0, validation.MaxAcceptanceCriteriaLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateAmount("сумма вехи", in.Amount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	allocated, err := s.milestones.SumAmountsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if allocated+in.Amount > project.Budget {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма вех превышает бюджет проекта")
	}

	m := &models.Milestone{
		ProjectID:          projectID,
		Title:              in.Title,
		AcceptanceCriteria: in.AcceptanceCriteria,
		Amount:             in.Amount,
		Currency:           project.Currency,
		Status:             models.MilestoneStatusPending,
		DeadlineAt:         in.DeadlineAt,
	}

	if err := s.milestones.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logActivity(ctx, projectID, &actor.ID, "milestone.created", map[string]any{
		"milestone_id": m.ID,
		"amount":       m.Amount,
	})
	if project.FreelancerID != nil {
		s.notifier.Notify(ctx, *project.FreelancerID, "milestone.created", m)
	}

	return m, nil
}

// Get возвращает веху с проверкой доступа.
func (s *MilestoneService) Get(ctx context.Context, actor *models.User, milestoneID uuid.UUID) (*models.Milestone, error) {
	m, _, err := s.loadWithProject(ctx, actor, milestoneID)
	return m, err
}

// ListByProject возвращает вехи проекта.
func (s *MilestoneService) ListByProject(ctx context.Context, actor *models.User, projectID uuid.UUID) ([]models.Milestone, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, apperror.ErrForbidden
	}
	return s.milestones.ListByProject(ctx, projectID)
}

// Start переводит веху в работу. Старт доступен только назначенному
// фрилансеру и только при достаточном покрытии эскроу: работа не
// начинается, пока деньги не зарезервированы.
func (s *MilestoneService) Start(ctx context.Context, actor *models.User, milestoneID uuid.UUID) (*models.Milestone, error) {
	m, project, err := s.loadWithProject(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	if !project.IsAssignedTo(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if project.EscrowAccount.Remaining < m.Amount {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "эскроу не покрывает сумму вехи")
	}

	ok, err := s.milestones.MarkStarted(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "веху нельзя начать из текущего статуса")
	}

	s.logActivity(ctx, project.ID, &actor.ID, "milestone.started", map[string]any{"milestone_id": m.ID})
	s.notifier.Notify(ctx, project.ClientID, "milestone.started", m)

	return s.milestones.GetByID(ctx, milestoneID)
}

// Submit сдаёт веху на приёмку. Сдача должна содержать хотя бы один
// результат работы или пояснительные заметки.
func (s *MilestoneService) Submit(ctx context.Context, actor *models.User, milestoneID uuid.UUID, notes string, deliverables []DeliverableInput) (*models.Milestone, error) {
	m, project, err := s.loadWithProject(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	if !project.IsAssignedTo(actor.ID) {
		return nil, apperror.ErrForbidden
	}

	if len(deliverables) == 0 && strings.TrimSpace(notes) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "пустая сдача не принимается: приложите результаты или заметки")
	}
	if err := validation.ValidateLength("заметки к сдаче", notes, 0, validation.MaxSubmissionNotesLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if notes != "" {
		if err := s.moderateText(ctx, notes); err != nil {
			return nil, err
		}
	}

	rows := make([]models.Deliverable, 0, len(deliverables))
	for i, d := range deliverables {
		if _, err := s.media.GetByID(ctx, d.MediaID); err != nil {
			if errors.Is(err, repository.ErrMediaNotFound) {
				return nil, apperror.New(apperror.ErrCodeValidation, "файл результата не найден")
			}
			return nil, err
		}
		rows = append(rows, models.Deliverable{
			MilestoneID: m.ID,
			MediaID:     d.MediaID,
			Note:        d.Note,
			Position:    i,
		})
	}

	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	ok, err := s.milestones.SaveSubmission(ctx, milestoneID, notesPtr, rows)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "веху нельзя сдать из текущего статуса")
	}

	s.logActivity(ctx, project.ID, &actor.ID, "milestone.submitted", map[string]any{
		"milestone_id": m.ID,
		"deliverables": len(rows),
	})
	s.notifier.Notify(ctx, project.ClientID, "milestone.submitted", m)

	return s.milestones.GetByID(ctx, milestoneID)
}

// Approve принимает сданную веху и запускает выплату. Операция
// идемпотентна: повторная приёмка уже принятой вехи не создаёт новых
// транзакций.
func (s *MilestoneService) Approve(ctx context.Context, actor *models.User, milestoneID uuid.UUID) (*models.Milestone, *models.Transaction, error) {
	m, project, err := s.loadWithProject(ctx, actor, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	if !project.IsOwnedBy(actor.ID) {
		return nil, nil, apperror.ErrForbidden
	}
	if m.Status == models.MilestoneStatusApproved {
		return m, nil, nil
	}
	if m.Status != models.MilestoneStatusSubmitted {
		return nil, nil, apperror.New(apperror.ErrCodeInvalidState, "принять можно только сданную веху")
	}

	assessment, err := s.fraud.AssessPayment(ctx, actor.ID, m.Amount)
	if err != nil {
		return nil, nil, err
	}
	s.logActivity(ctx, project.ID, &actor.ID, "fraud.assessed", map[string]any{
		"operation":    "milestone.approve",
		"milestone_id": m.ID,
		"risk_score":   assessment.RiskScore,
		"risk_level":   assessment.RiskLevel,
		"risk_factors": assessment.RiskFactors,
	})
	if assessment.Exceeds(s.fraud.Policy().BlockLevel) {
		return nil, nil, apperror.New(apperror.ErrCodeForbidden, "операция заблокирована фрод-контролем")
	}

	transaction, err := s.releaser.Release(ctx, project, m, models.MilestoneStatusSubmitted, &actor.ID, "milestone.approved")
	if err != nil {
		return nil, nil, err
	}

	if project.FreelancerID != nil {
		s.notifier.Notify(ctx, *project.FreelancerID, "milestone.approved", m)
	}

	updated, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	return updated, transaction, nil
}

// RequestRevision возвращает сданную веху на доработку.
func (s *MilestoneService) RequestRevision(ctx context.Context, actor *models.User, milestoneID uuid.UUID, notes string) (*models.Milestone, error) {
	m, project, err := s.loadWithProject(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}

	if err := validation.ValidateNonEmpty("замечания", notes); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("замечания", notes, 0, validation.MaxRevisionNotesLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := s.moderateText(ctx, notes); err != nil {
		return nil, err
	}

	rev := &models.RevisionRequest{
		MilestoneID: m.ID,
		RequestedBy: actor.ID,
		Notes:       notes,
	}
	ok, err := s.milestones.SaveRevisionRequest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "вернуть на доработку можно только сданную веху")
	}

	s.logActivity(ctx, project.ID, &actor.ID, "milestone.revision_requested", map[string]any{"milestone_id": m.ID})
	if project.FreelancerID != nil {
		s.notifier.Notify(ctx, *project.FreelancerID, "milestone.revision_requested", rev)
	}

	return s.milestones.GetByID(ctx, milestoneID)
}

// AutoApproveDue принимает вехи, по которым клиент не отреагировал в срок
// автоприёмки проекта. Ошибка по одной вехе не прерывает обход.
func (s *MilestoneService) AutoApproveDue(ctx context.Context, now time.Time) {
	due, err := s.milestones.ListAutoApprovable(ctx, now)
	if err != nil {
		logger.Log.WithError(err).Error("milestone service: не удалось получить вехи для автоприёмки")
		return
	}

	for i := range due {
		m := &due[i]
		project, err := s.projects.GetByID(ctx, m.ProjectID)
		if err != nil {
			logger.Log.WithError(err).WithField("milestone_id", m.ID).
				Error("milestone service: автоприёмка — проект не найден")
			continue
		}

		transaction, err := s.releaser.Release(ctx, project, m, models.MilestoneStatusSubmitted, nil, "milestone.auto_approved")
		if err != nil {
			logger.Log.WithError(err).WithField("milestone_id", m.ID).
				Error("milestone service: автоприёмка не удалась")
			continue
		}
		// Ручная приёмка успела раньше — переход не наш, не уведомляем.
		if transaction == nil {
			continue
		}

		if project.FreelancerID != nil {
			s.notifier.Notify(ctx, *project.FreelancerID, "milestone.auto_approved", m)
		}
		s.notifier.Notify(ctx, project.ClientID, "milestone.auto_approved", m)
	}
}

// loadWithProject загружает веху и её проект с проверкой доступа на чтение.
func (s *MilestoneService) loadWithProject(ctx context.Context, actor *models.User, milestoneID uuid.UUID) (*models.Milestone, *models.Project, error) {
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			return nil, nil, apperror.ErrMilestoneNotFound
		}
		return nil, nil, err
	}

	project, err := s.projects.GetByID(ctx, m.ProjectID)
	if err != nil {
		return nil, nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, nil, apperror.ErrForbidden
	}

	return m, project, nil
}

func (s *MilestoneService) moderateText(ctx context.Context, text string) error {
	result, err := s.moderator.ReviewText(ctx, text)
	if err != nil {
		return err
	}
	if result.IsFlagged {
		return apperror.New(apperror.ErrCodeContentRejected, "текст отклонён модерацией")
	}
	return nil
}

func (s *MilestoneService) logActivity(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) {
	_ = s.activity.Add(ctx, projectID, actorID, action, metadata)
}
