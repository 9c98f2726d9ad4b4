package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrProjectNotFound возвращается, когда проект не найден.
var ErrProjectNotFound = errors.New("project not found")

const projectColumns = `
	id, client_id, freelancer_id, title, description, budget, currency, status,
	auto_approve_days, escrow_held, escrow_released, escrow_remaining,
	created_at, updated_at
`

// ProjectRepository отвечает за работу с таблицей projects.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository создаёт экземпляр репозитория.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create создаёт проект с нулевым эскроу.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (client_id, title, description, budget, currency, status, auto_approve_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	if err := r.db.QueryRowxContext(
		ctx, query,
		p.ClientID, p.Title, p.Description, p.Budget, p.Currency, p.Status, p.AutoApproveDays,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("project repository: create %w", err)
	}
	return nil
}

// GetByID возвращает проект по идентификатору.
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("project repository: get by id %w", err)
	}
	return &p, nil
}

// ListByParticipant возвращает проекты, где пользователь — клиент или фрилансер.
func (r *ProjectRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error) {
	var projects []models.Project
	query := `
		SELECT ` + projectColumns + ` FROM projects
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &projects, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("project repository: list by participant %w", err)
	}
	return projects, nil
}

// AssignFreelancer назначает фрилансера и переводит проект в работу.
// Гард по status = 'open' не даёт переназначить уже занятый проект.
func (r *ProjectRepository) AssignFreelancer(ctx context.Context, projectID, freelancerID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET freelancer_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND freelancer_id IS NULL
	`, projectID, freelancerID, models.ProjectStatusInProgress, models.ProjectStatusOpen)
	if err != nil {
		return false, fmt.Errorf("project repository: assign freelancer %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("project repository: assign freelancer %w", err)
	}
	return n > 0, nil
}

// UpdateStatus переводит проект в новый статус.
func (r *ProjectRepository) UpdateStatus(ctx context.Context, projectID uuid.UUID, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1
	`, projectID, status)
	if err != nil {
		return fmt.Errorf("project repository: update status %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// CountByClientSince считает проекты клиента, созданные после указанного момента.
// Используется фрод-скорингом (velocity-сигнал).
func (r *ProjectRepository) CountByClientSince(ctx context.Context, clientID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM projects WHERE client_id = $1 AND created_at >= $2
	`, clientID, since)
	if err != nil {
		return 0, fmt.Errorf("project repository: count by client since %w", err)
	}
	return count, nil
}
