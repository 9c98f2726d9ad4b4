package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/moderation"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// ProjectRepository описывает зависимость сервиса от хранилища проектов.
type ProjectRepository interface {
	Create(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error)
	AssignFreelancer(ctx context.Context, projectID, freelancerID uuid.UUID) (bool, error)
}

// ProjectEscrowRepository описывает зачисление средств в эскроу.
type ProjectEscrowRepository interface {
	Deposit(ctx context.Context, projectID, clientID uuid.UUID, amount int64) (*models.Transaction, error)
}

// ProjectActivityRepository описывает журнал действий.
type ProjectActivityRepository interface {
	Add(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) error
	ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.ActivityLogEntry, error)
}

// ProjectTransactionRepository описывает чтение журнала транзакций.
type ProjectTransactionRepository interface {
	ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// ContentModerator проверяет пользовательский текст перед публикацией.
type ContentModerator interface {
	ReviewText(ctx context.Context, text string) (*moderation.Result, error)
}

// Notifier доставляет событие пользователям (запись + websocket).
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{})
}

// ProjectService содержит бизнес-логику проектов и эскроу-счёта.
type ProjectService struct {
	projects  ProjectRepository
	escrow    ProjectEscrowRepository
	activity  ProjectActivityRepository
	txs       ProjectTransactionRepository
	moderator ContentModerator
	notifier  Notifier
	fraud     *FraudService

	defaultAutoApproveDays int
}

// CreateProjectInput содержит данные нового проекта.
type CreateProjectInput struct {
	Title           string
	Description     string
	Budget          int64
	Currency        string
	AutoApproveDays int
}

// NewProjectService создаёт сервис проектов.
func NewProjectService(
	projects ProjectRepository,
	escrow ProjectEscrowRepository,
	activity ProjectActivityRepository,
	txs ProjectTransactionRepository,
	moderator ContentModerator,
	notifier Notifier,
	fraudSvc *FraudService,
	defaultAutoApproveDays int,
) *ProjectService {
	return &ProjectService{
		projects:               projects,
		escrow:                 escrow,
		activity:               activity,
		txs:                    txs,
		moderator:              moderator,
		notifier:               notifier,
		fraud:                  fraudSvc,
		defaultAutoApproveDays: defaultAutoApproveDays,
	}
}

// Create создаёт проект. Создавать проекты может только клиент.
func (s *ProjectService) Create(ctx context.Context, actor *models.User, in CreateProjectInput) (*models.Project, error) {
	if actor.Role != models.RoleClient && actor.Role != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	if err := validation.ValidateLength("название", in.Title, validation.MinProjectTitleLength, validation.MaxProjectTitleLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("описание", in.Description, validation.MinProjectDescriptionLength, validation.MaxProjectDescriptionLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateAmount("бюджет", in.Budget); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateCurrency(in.Currency); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	if err := s.moderateText(ctx, in.Title+"\n"+in.Description); err != nil {
		return nil, err
	}

	autoApproveDays := in.AutoApproveDays
	if autoApproveDays <= 0 {
		autoApproveDays = s.defaultAutoApproveDays
	}

	project := &models.Project{
		ClientID:        actor.ID,
		Title:           in.Title,
		Description:     in.Description,
		Budget:          in.Budget,
		Currency:        in.Currency,
		Status:          models.ProjectStatusOpen,
		AutoApproveDays: autoApproveDays,
	}

	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}

	s.logActivity(ctx, project.ID, &actor.ID, "project.created", map[string]any{
		"budget":   project.Budget,
		"currency": project.Currency,
	})

	return project, nil
}

// Get возвращает проект. Доступ есть у участников, посредников и админов.
func (s *ProjectService) Get(ctx context.Context, actor *models.User, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, apperror.ErrForbidden
	}
	return project, nil
}

// List возвращает проекты пользователя.
func (s *ProjectService) List(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]models.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.projects.ListByParticipant(ctx, actorID, limit, offset)
}

// Accept назначает фрилансера на открытый проект. Конкурентные принятия
// разрешает гард в хранилище: выигрывает первый.
func (s *ProjectService) Accept(ctx context.Context, actor *models.User, projectID uuid.UUID) (*models.Project, error) {
	if actor.Role != models.RoleFreelancer {
		return nil, apperror.ErrForbidden
	}

	ok, err := s.projects.AssignFreelancer(ctx, projectID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "проект уже принят или недоступен")
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}

	s.logActivity(ctx, projectID, &actor.ID, "project.accepted", nil)
	s.notifier.Notify(ctx, project.ClientID, "project.accepted", project)

	return project, nil
}

// FundEscrow зачисляет средства клиента в эскроу проекта.
func (s *ProjectService) FundEscrow(ctx context.Context, actor *models.User, projectID uuid.UUID, amount int64) (*models.Transaction, error) {
	if err := validation.ValidateAmount("сумма", amount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !project.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	if project.Status == models.ProjectStatusCompleted || project.Status == models.ProjectStatusCancelled {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "проект закрыт, пополнение невозможно")
	}

	assessment, err := s.fraud.AssessPayment(ctx, actor.ID, amount)
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, projectID, &actor.ID, "fraud.assessed", map[string]any{
		"operation":    "escrow.deposit",
		"risk_score":   assessment.RiskScore,
		"risk_level":   assessment.RiskLevel,
		"risk_factors": assessment.RiskFactors,
	})
	if assessment.Exceeds(s.fraud.Policy().BlockLevel) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "операция заблокирована фрод-контролем")
	}

	transaction, err := s.escrow.Deposit(ctx, projectID, actor.ID, amount)
	if err != nil {
		return nil, err
	}

	if project.FreelancerID != nil {
		s.notifier.Notify(ctx, *project.FreelancerID, "escrow.deposited", transaction)
	}

	return transaction, nil
}

// Activity возвращает журнал действий проекта.
func (s *ProjectService) Activity(ctx context.Context, actor *models.User, projectID uuid.UUID, limit, offset int) ([]models.ActivityLogEntry, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, apperror.ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.activity.ListByProject(ctx, projectID, limit, offset)
}

// Transactions возвращает журнал транзакций проекта.
func (s *ProjectService) Transactions(ctx context.Context, actor *models.User, projectID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, apperror.ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.txs.ListByProject(ctx, projectID, limit, offset)
}

// moderateText прогоняет текст через модерацию.
func (s *ProjectService) moderateText(ctx context.Context, text string) error {
	result, err := s.moderator.ReviewText(ctx, text)
	if err != nil {
		return err
	}
	if result.IsFlagged {
		e := apperror.New(apperror.ErrCodeContentRejected, "текст отклонён модерацией")
		if len(result.FlaggedReasons) > 0 {
			e.Message = "текст отклонён модерацией: " + result.FlaggedReasons[0]
		}
		return e
	}
	return nil
}

func (s *ProjectService) logActivity(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) {
	_ = s.activity.Add(ctx, projectID, actorID, action, metadata)
}

// canViewProject решает, видит ли пользователь проект.
func canViewProject(actor *models.User, project *models.Project) bool {
	switch actor.Role {
	case models.RoleAdmin, models.RoleMediator, models.RoleArbitrator:
		return true
	}
	return project.IsParticipant(actor.ID)
}

func mapProjectErr(err error) error {
	if errors.Is(err, repository.ErrProjectNotFound) {
		return apperror.ErrProjectNotFound
	}
	return err
}
