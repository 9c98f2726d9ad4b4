package dto

import "time"

// RegisterRequest — запрос регистрации пользователя.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginRequest — запрос входа.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest — запрос обновления пары токенов.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// SetPayoutAccountRequest — привязка счёта у платёжного провайдера.
type SetPayoutAccountRequest struct {
	AccountRef string `json:"account_ref" binding:"required"`
}

// CreateProjectRequest — запрос создания проекта.
type CreateProjectRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description" binding:"required"`
	Budget          int64  `json:"budget" binding:"required"`
	Currency        string `json:"currency"`
	AutoApproveDays int    `json:"auto_approve_days"`
}

// FundEscrowRequest — запрос пополнения эскроу проекта.
type FundEscrowRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// CreateMilestoneRequest — запрос создания вехи.
type CreateMilestoneRequest struct {
	Title              string     `json:"title" binding:"required"`
	AcceptanceCriteria string     `json:"acceptance_criteria"`
	Amount             int64      `json:"amount" binding:"required"`
	DeadlineAt         *time.Time `json:"deadline_at"`
}

// DeliverableRequest — результат работы, прикладываемый к сдаче вехи.
type DeliverableRequest struct {
	MediaID string  `json:"media_id" binding:"required"`
	Note    *string `json:"note"`
}

// SubmitMilestoneRequest — запрос сдачи вехи на приёмку.
type SubmitMilestoneRequest struct {
	Notes        string               `json:"notes"`
	Deliverables []DeliverableRequest `json:"deliverables" binding:"required"`
}

// RequestRevisionRequest — запрос возврата вехи на доработку.
type RequestRevisionRequest struct {
	Notes string `json:"notes" binding:"required"`
}

// OpenDisputeRequest — запрос открытия спора по вехе.
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// AddEvidenceRequest — материал к спору.
type AddEvidenceRequest struct {
	Description string  `json:"description" binding:"required"`
	MediaID     *string `json:"media_id"`
}

// AssignMediatorRequest — назначение посредника на спор.
type AssignMediatorRequest struct {
	MediatorID string `json:"mediator_id" binding:"required"`
}

// EscalateDisputeRequest — передача спора в арбитраж.
type EscalateDisputeRequest struct {
	ArbitratorID string `json:"arbitrator_id" binding:"required"`
}

// ResolveDisputeRequest — решение по спору.
type ResolveDisputeRequest struct {
	Decision           string `json:"decision" binding:"required"`
	AmountToFreelancer int64  `json:"amount_to_freelancer"`
	AmountToClient     int64  `json:"amount_to_client"`
	Reason             string `json:"reason" binding:"required"`
}
