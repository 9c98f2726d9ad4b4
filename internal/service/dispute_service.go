package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/ai"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// DisputeRepo описывает зависимость сервиса от хранилища споров.
type DisputeRepo interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Dispute, error)
	SaveReview(ctx context.Context, id uuid.UUID, review *models.AutoReview) error
	AdvanceStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus, phase string, mediatorID, arbitratorID *uuid.UUID) (bool, error)
	AddEvidence(ctx context.Context, e *models.DisputeEvidence) error
}

// DisputeMilestoneRepo описывает доступ к вехам.
type DisputeMilestoneRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
}

// DisputeEscrowRepo фиксирует решение по спору вместе с движением средств.
type DisputeEscrowRepo interface {
	CommitResolution(ctx context.Context, c repository.ResolutionCommit) (payment, refund *models.Transaction, err error)
}

// DisputeReviewer выполняет автоматический разбор спора.
type DisputeReviewer interface {
	Configured() bool
	ReviewDispute(ctx context.Context, dc ai.DisputeContext) (*ai.ReviewResult, error)
}

// PayoutExecutor проводит выплату доли, уже зафиксированной в леджере.
type PayoutExecutor interface {
	ExecutePayout(ctx context.Context, projectID uuid.UUID, transaction *models.Transaction, accountRef, currency string) error
}

// ResolveInput — решение по спору от посредника или арбитра.
type ResolveInput struct {
	Decision           string
	AmountToFreelancer int64
	AmountToClient     int64
	Reason             string
}

// DisputeService содержит бизнес-логику споров: открытие, материалы,
// автопроверка, медиация, арбитраж и исполнение решения.
type DisputeService struct {
	disputes   DisputeRepo
	milestones DisputeMilestoneRepo
	projects   MilestoneProjectRepo
	users      ReleaseUserRepository
	escrow     DisputeEscrowRepo
	reviewer   DisputeReviewer
	executor   PayoutExecutor
	moderator  ContentModerator
	notifier   Notifier
	activity   ProjectActivityRepository
	fraud      *FraudService

	// Порог уверенности, выше которого рекомендация автопроверки
	// применяется без участия посредника.
	autoResolveConfidence float64
}

// NewDisputeService создаёт сервис споров.
func NewDisputeService(
	disputes DisputeRepo,
	milestones DisputeMilestoneRepo,
	projects MilestoneProjectRepo,
	users ReleaseUserRepository,
	escrow DisputeEscrowRepo,
	reviewer DisputeReviewer,
	executor PayoutExecutor,
	moderator ContentModerator,
	notifier Notifier,
	activity ProjectActivityRepository,
	fraudSvc *FraudService,
	autoResolveConfidence float64,
) *DisputeService {
	return &DisputeService{
		disputes:              disputes,
		milestones:            milestones,
		projects:              projects,
		users:                 users,
		escrow:                escrow,
		reviewer:              reviewer,
		executor:              executor,
		moderator:             moderator,
		notifier:              notifier,
		activity:              activity,
		fraud:                 fraudSvc,
		autoResolveConfidence: autoResolveConfidence,
	}
}

// Open открывает спор по вехе. У вехи может быть только один незакрытый
// спор; веха переводится в disputed, замораживая сдачу и приёмку.
func (s *DisputeService) Open(ctx context.Context, actor *models.User, milestoneID uuid.UUID, reason string) (*models.Dispute, error) {
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			return nil, apperror.ErrMilestoneNotFound
		}
		return nil, err
	}

	project, err := s.projects.GetByID(ctx, m.ProjectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !project.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}

	if !m.CanBeDisputed() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "по вехе в текущем статусе спор открыть нельзя")
	}
	if _, err := s.disputes.GetOpenByMilestone(ctx, milestoneID); err == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "по вехе уже открыт спор")
	} else if !errors.Is(err, repository.ErrDisputeNotFound) {
		return nil, err
	}

	if err := validation.ValidateLength("причина спора", reason, validation.MinDisputeReasonLength, validation.MaxDisputeReasonLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := s.moderateReason(ctx, reason); err != nil {
		return nil, err
	}

	assessment, err := s.fraud.AssessDispute(ctx, actor.ID, reason, m.SubmittedAt)
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, project.ID, &actor.ID, "fraud.assessed", map[string]any{
		"operation":    "dispute.open",
		"milestone_id": m.ID,
		"risk_score":   assessment.RiskScore,
		"risk_level":   assessment.RiskLevel,
		"risk_factors": assessment.RiskFactors,
	})
	if assessment.Exceeds(s.fraud.Policy().BlockLevel) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "операция заблокирована фрод-контролем")
	}

	dispute := &models.Dispute{
		ProjectID:   project.ID,
		MilestoneID: m.ID,
		RaisedBy:    actor.ID,
		Reason:      reason,
		Status:      models.DisputeStatusPendingReview,
		Phase:       models.DisputePhaseAutoReview,
	}
	// Создание спора и перевод вехи в disputed атомарны: если приёмка
	// успела раньше, спор не открывается.
	if err := s.disputes.Create(ctx, dispute); err != nil {
		if errors.Is(err, repository.ErrMilestoneNotDisputable) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "по вехе в текущем статусе спор открыть нельзя")
		}
		return nil, err
	}

	s.logActivity(ctx, project.ID, &actor.ID, "dispute.opened", map[string]any{
		"dispute_id":   dispute.ID,
		"milestone_id": m.ID,
	})
	s.notifyParties(ctx, project, "dispute.opened", dispute)

	return dispute, nil
}

// AddEvidence прикладывает материал к незакрытому спору.
func (s *DisputeService) AddEvidence(ctx context.Context, actor *models.User, disputeID uuid.UUID, description string, mediaID *uuid.UUID) (*models.DisputeEvidence, error) {
	dispute, project, err := s.loadWithProject(ctx, actor, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsOpen() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
	}
	if !project.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}

	if err := validation.ValidateNonEmpty("описание материала", description); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := s.moderateReason(ctx, description); err != nil {
		return nil, err
	}

	evidence := &models.DisputeEvidence{
		DisputeID:   dispute.ID,
		SubmittedBy: actor.ID,
		Description: description,
		MediaID:     mediaID,
	}
	if err := s.disputes.AddEvidence(ctx, evidence); err != nil {
		return nil, err
	}

	s.logActivity(ctx, project.ID, &actor.ID, "dispute.evidence_added", map[string]any{"dispute_id": dispute.ID})
	return evidence, nil
}

// Get возвращает спор с проверкой доступа.
func (s *DisputeService) Get(ctx context.Context, actor *models.User, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, _, err := s.loadWithProject(ctx, actor, disputeID)
	return dispute, err
}

// ListByProject возвращает споры проекта.
func (s *DisputeService) ListByProject(ctx context.Context, actor *models.User, projectID uuid.UUID) ([]models.Dispute, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, apperror.ErrForbidden
	}
	return s.disputes.ListByProject(ctx, projectID)
}

// RunAutoReview выполняет автоматический разбор спора в статусе
// pending_review. При высокой уверенности рекомендация применяется сразу,
// иначе спор уходит в медиацию.
func (s *DisputeService) RunAutoReview(ctx context.Context, disputeID uuid.UUID) error {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return mapDisputeErr(err)
	}
	if dispute.Status != models.DisputeStatusPendingReview {
		return apperror.New(apperror.ErrCodeInvalidState, "автопроверка доступна только новому спору")
	}

	m, err := s.milestones.GetByID(ctx, dispute.MilestoneID)
	if err != nil {
		return err
	}

	if !s.reviewer.Configured() {
		// Без сервиса разбора спор сразу уходит посреднику.
		return s.moveToMediation(ctx, dispute)
	}

	dc := ai.DisputeContext{
		Reason:             dispute.Reason,
		MilestoneTitle:     m.Title,
		AcceptanceCriteria: m.AcceptanceCriteria,
		Amount:             m.Amount,
		Currency:           m.Currency,
		RevisionCount:      len(m.Revisions),
	}
	if m.SubmissionNotes != nil {
		dc.SubmissionNotes = *m.SubmissionNotes
	}
	for _, e := range dispute.Evidence {
		dc.Evidence = append(dc.Evidence, e.Description)
	}

	result, err := s.reviewer.ReviewDispute(ctx, dc)
	if err != nil {
		logger.Log.WithError(err).WithField("dispute_id", dispute.ID).
			Warn("dispute service: автопроверка недоступна, передаём посреднику")
		return s.moveToMediation(ctx, dispute)
	}

	review := &models.AutoReview{
		ConfidenceScore: result.ConfidenceScore,
		KeyIssues:       result.KeyIssues,
		Recommended: models.Split{
			Decision:           result.Decision,
			AmountToFreelancer: result.AmountToFreelancer,
			AmountToClient:     result.AmountToClient,
		},
		Reasoning: result.Reasoning,
	}
	if err := s.disputes.SaveReview(ctx, dispute.ID, review); err != nil {
		return err
	}

	s.logActivity(ctx, dispute.ProjectID, nil, "dispute.auto_reviewed", map[string]any{
		"dispute_id": dispute.ID,
		"confidence": result.ConfidenceScore,
		"decision":   result.Decision,
	})

	if result.ConfidenceScore >= s.autoResolveConfidence {
		// decidedBy nil — решение принято автоматикой.
		return s.resolve(ctx, nil, dispute, m, ResolveInput{
			Decision:           result.Decision,
			AmountToFreelancer: result.AmountToFreelancer,
			AmountToClient:     result.AmountToClient,
			Reason:             result.Reasoning,
		})
	}

	return s.moveToMediation(ctx, dispute)
}

// AssignMediator назначает посредника на спор в статусе pending_review.
func (s *DisputeService) AssignMediator(ctx context.Context, actor *models.User, disputeID uuid.UUID, mediatorID uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return apperror.ErrForbidden
	}
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return mapDisputeErr(err)
	}

	fromStatus := dispute.Status
	if fromStatus != models.DisputeStatusPendingReview && fromStatus != models.DisputeStatusInMediation {
		return apperror.New(apperror.ErrCodeInvalidState, "посредника можно назначить только до арбитража")
	}

	ok, err := s.disputes.AdvanceStatus(ctx, dispute.ID,
		fromStatus, models.DisputeStatusInMediation,
		models.DisputePhaseMediation, &mediatorID, nil)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.New(apperror.ErrCodeInvalidState, "статус спора изменился, повторите назначение")
	}

	s.logActivity(ctx, dispute.ProjectID, &actor.ID, "dispute.mediator_assigned", map[string]any{
		"dispute_id":  dispute.ID,
		"mediator_id": mediatorID,
	})
	return nil
}

// Escalate передаёт спор в арбитраж: из медиации либо напрямую из
// pending_review, когда автопроверка не дала уверенного исхода.
func (s *DisputeService) Escalate(ctx context.Context, actor *models.User, disputeID uuid.UUID, arbitratorID uuid.UUID) error {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return mapDisputeErr(err)
	}

	isMediator := dispute.MediatorID != nil && *dispute.MediatorID == actor.ID
	if !isMediator && actor.Role != models.RoleAdmin {
		return apperror.ErrForbidden
	}

	fromStatus := dispute.Status
	if fromStatus != models.DisputeStatusPendingReview && fromStatus != models.DisputeStatusInMediation {
		return apperror.New(apperror.ErrCodeInvalidState, "эскалировать можно только незакрытый спор до арбитража")
	}

	ok, err := s.disputes.AdvanceStatus(ctx, dispute.ID,
		fromStatus, models.DisputeStatusEscalated,
		models.DisputePhaseArbitration, nil, &arbitratorID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.New(apperror.ErrCodeInvalidState, "статус спора изменился, повторите эскалацию")
	}

	// Арбитр принимает дело в работу.
	if _, err := s.disputes.AdvanceStatus(ctx, dispute.ID,
		models.DisputeStatusEscalated, models.DisputeStatusInArbitration,
		models.DisputePhaseArbitration, nil, nil); err != nil {
		return err
	}

	s.logActivity(ctx, dispute.ProjectID, &actor.ID, "dispute.escalated", map[string]any{
		"dispute_id":    dispute.ID,
		"arbitrator_id": arbitratorID,
	})
	return nil
}

// Resolve применяет решение по спору. В медиации решает назначенный
// посредник, в арбитраже — назначенный арбитр; админ может решить любой
// незакрытый спор.
func (s *DisputeService) Resolve(ctx context.Context, actor *models.User, disputeID uuid.UUID, in ResolveInput) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, mapDisputeErr(err)
	}
	if !dispute.IsOpen() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
	}

	if err := s.authorizeResolver(actor, dispute); err != nil {
		return nil, err
	}

	m, err := s.milestones.GetByID(ctx, dispute.MilestoneID)
	if err != nil {
		return nil, err
	}

	if err := s.resolve(ctx, &actor.ID, dispute, m, in); err != nil {
		return nil, err
	}

	return s.disputes.GetByID(ctx, disputeID)
}

// resolve проверяет сохранение суммы, фиксирует решение и проводит выплаты.
func (s *DisputeService) resolve(ctx context.Context, decidedBy *uuid.UUID, dispute *models.Dispute, m *models.Milestone, in ResolveInput) error {
	// Инвариант решения: доли неотрицательны и в сумме равны сумме вехи.
	if in.AmountToFreelancer < 0 || in.AmountToClient < 0 ||
		in.AmountToFreelancer+in.AmountToClient != m.Amount {
		return apperror.New(apperror.ErrCodeConservation, "доли решения не сходятся с суммой вехи")
	}
	switch in.Decision {
	case models.ResolutionDecisionRelease, models.ResolutionDecisionRefund, models.ResolutionDecisionSplit:
	default:
		return apperror.New(apperror.ErrCodeValidation, "неизвестное решение по спору")
	}

	project, err := s.projects.GetByID(ctx, dispute.ProjectID)
	if err != nil {
		return mapProjectErr(err)
	}

	// Счёт фрилансера проверяется до фиксации: без него выплата доли
	// невозможна и леджер трогать нельзя.
	var freelancer *models.User
	if in.AmountToFreelancer > 0 {
		if project.FreelancerID == nil {
			return apperror.New(apperror.ErrCodeInvalidState, "на проект не назначен фрилансер")
		}
		freelancer, err = s.users.GetByID(ctx, *project.FreelancerID)
		if err != nil {
			return err
		}
		if freelancer.PayoutAccountRef == nil || *freelancer.PayoutAccountRef == "" {
			return apperror.ErrPayoutAccountMissing
		}
	}

	// Полная выплата фрилансеру завершает веху, любой возврат клиенту
	// возвращает её на доработку.
	milestoneStatus := models.MilestoneStatusApproved
	if in.AmountToFreelancer < m.Amount {
		milestoneStatus = models.MilestoneStatusRevisionRequested
	}

	commit := repository.ResolutionCommit{
		ProjectID:   dispute.ProjectID,
		MilestoneID: dispute.MilestoneID,
		DisputeID:   dispute.ID,
		Amount:      m.Amount,
		Resolution: models.Resolution{
			Decision:           in.Decision,
			AmountToFreelancer: in.AmountToFreelancer,
			AmountToClient:     in.AmountToClient,
			Reason:             in.Reason,
			DecidedBy:          decidedBy,
		},
		MilestoneStatus: milestoneStatus,
		FreelancerID:    project.FreelancerID,
		ClientID:        project.ClientID,
	}

	payment, _, err := s.escrow.CommitResolution(ctx, commit)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyCommitted) {
			return apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
		}
		if errors.Is(err, repository.ErrInsufficientEscrow) {
			return apperror.Wrap(err, apperror.ErrCodeInvalidState, "в эскроу недостаточно средств для исполнения решения")
		}
		if errors.Is(err, repository.ErrMilestoneNotDisputable) {
			return apperror.Wrap(err, apperror.ErrCodeInvalidState, "веха уже вышла из статуса спора")
		}
		return err
	}

	// Доля фрилансера уходит через провайдера; возврат клиенту — внутреннее
	// движение платформы, провайдер не участвует.
	if payment != nil && freelancer != nil {
		if err := s.executor.ExecutePayout(ctx, project.ID, payment, *freelancer.PayoutAccountRef, m.Currency); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"dispute_id":     dispute.ID,
				"transaction_id": payment.ID,
			}).WithError(err).Error("dispute service: выплата доли фрилансера не прошла")
			return err
		}
	}

	s.notifyParties(ctx, project, "dispute.resolved", dispute)
	return nil
}

// authorizeResolver проверяет право актора решать спор в его текущей фазе.
func (s *DisputeService) authorizeResolver(actor *models.User, dispute *models.Dispute) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	switch dispute.Status {
	case models.DisputeStatusInMediation:
		if dispute.MediatorID != nil && *dispute.MediatorID == actor.ID {
			return nil
		}
	case models.DisputeStatusInArbitration, models.DisputeStatusEscalated:
		if dispute.ArbitratorID != nil && *dispute.ArbitratorID == actor.ID {
			return nil
		}
	}
	return apperror.ErrForbidden
}

// moveToMediation переводит спор из автопроверки в медиацию без назначения
// посредника: его назначит админ.
func (s *DisputeService) moveToMediation(ctx context.Context, dispute *models.Dispute) error {
	ok, err := s.disputes.AdvanceStatus(ctx, dispute.ID,
		models.DisputeStatusPendingReview, models.DisputeStatusInMediation,
		models.DisputePhaseMediation, nil, nil)
	if err != nil {
		return err
	}
	if ok {
		s.logActivity(ctx, dispute.ProjectID, nil, "dispute.moved_to_mediation", map[string]any{
			"dispute_id": dispute.ID,
		})
	}
	return nil
}

func (s *DisputeService) loadWithProject(ctx context.Context, actor *models.User, disputeID uuid.UUID) (*models.Dispute, *models.Project, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, nil, mapDisputeErr(err)
	}
	project, err := s.projects.GetByID(ctx, dispute.ProjectID)
	if err != nil {
		return nil, nil, mapProjectErr(err)
	}
	if !canViewProject(actor, project) {
		return nil, nil, apperror.ErrForbidden
	}
	return dispute, project, nil
}

func (s *DisputeService) moderateReason(ctx context.Context, text string) error {
	result, err := s.moderator.ReviewText(ctx, text)
	if err != nil {
		return err
	}
	if result.IsFlagged {
		return apperror.New(apperror.ErrCodeContentRejected, "текст отклонён модерацией")
	}
	return nil
}

func (s *DisputeService) notifyParties(ctx context.Context, project *models.Project, event string, data interface{}) {
	s.notifier.Notify(ctx, project.ClientID, event, data)
	if project.FreelancerID != nil {
		s.notifier.Notify(ctx, *project.FreelancerID, event, data)
	}
}

func (s *DisputeService) logActivity(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) {
	_ = s.activity.Add(ctx, projectID, actorID, action, metadata)
}

func mapDisputeErr(err error) error {
	if errors.Is(err, repository.ErrDisputeNotFound) {
		return apperror.ErrDisputeNotFound
	}
	return err
}
