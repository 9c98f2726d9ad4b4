package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы проектов
const (
	ProjectStatusDraft      = "draft"
	ProjectStatusOpen       = "open"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusCancelled  = "cancelled"
)

// ValidProjectStatuses список валидных статусов проектов
var ValidProjectStatuses = map[string]struct{}{
	ProjectStatusDraft:      {},
	ProjectStatusOpen:       {},
	ProjectStatusInProgress: {},
	ProjectStatusCompleted:  {},
	ProjectStatusCancelled:  {},
}

// EscrowAccount — снимок состояния эскроу-счёта проекта.
// Инвариант: TotalHeld == TotalReleased + Remaining, Remaining >= 0.
type EscrowAccount struct {
	TotalHeld     int64 `db:"escrow_held" json:"total_held"`
	TotalReleased int64 `db:"escrow_released" json:"total_released"`
	Remaining     int64 `db:"escrow_remaining" json:"remaining"`
}

// Project описывает проект с оплатой по вехам через эскроу.
// Все суммы хранятся в минорных единицах валюты (копейки, центы).
type Project struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ClientID        uuid.UUID  `db:"client_id" json:"client_id"`
	FreelancerID    *uuid.UUID `db:"freelancer_id" json:"freelancer_id,omitempty"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	Budget          int64      `db:"budget" json:"budget"`
	Currency        string     `db:"currency" json:"currency"`
	Status          string     `db:"status" json:"status"`
	AutoApproveDays int        `db:"auto_approve_days" json:"auto_approve_days"`
	EscrowAccount   `json:"escrow"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	Milestones []Milestone `json:"milestones,omitempty"`
}

// IsOwnedBy проверяет, что проект принадлежит клиенту.
func (p *Project) IsOwnedBy(userID uuid.UUID) bool {
	return p.ClientID == userID
}

// IsAssignedTo проверяет, что фрилансер назначен на проект.
func (p *Project) IsAssignedTo(userID uuid.UUID) bool {
	return p.FreelancerID != nil && *p.FreelancerID == userID
}

// IsParticipant проверяет, что пользователь — клиент или фрилансер проекта.
func (p *Project) IsParticipant(userID uuid.UUID) bool {
	return p.IsOwnedBy(userID) || p.IsAssignedTo(userID)
}

// ActivityLogEntry — запись журнала действий по проекту (append-only).
type ActivityLogEntry struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	ProjectID uuid.UUID  `db:"project_id" json:"project_id"`
	ActorID   *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	Action    string     `db:"action" json:"action"`
	Metadata  []byte     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
