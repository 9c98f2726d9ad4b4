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

// ErrMilestoneNotFound возвращается, когда веха не найдена.
var ErrMilestoneNotFound = errors.New("milestone not found")

// MilestoneRepository отвечает за работу с таблицами milestones,
// deliverables и revision_requests.
type MilestoneRepository struct {
	db *sqlx.DB
}

// NewMilestoneRepository создаёт экземпляр репозитория.
func NewMilestoneRepository(db *sqlx.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// Create создаёт веху в статусе pending.
func (r *MilestoneRepository) Create(ctx context.Context, m *models.Milestone) error {
	query := `
		INSERT INTO milestones (project_id, title, acceptance_criteria, amount, currency, status, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	if err := r.db.QueryRowxContext(
		ctx, query,
		m.ProjectID, m.Title, m.AcceptanceCriteria, m.Amount, m.Currency, m.Status, m.DeadlineAt,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return fmt.Errorf("milestone repository: create %w", err)
	}
	return nil
}

// GetByID возвращает веху вместе с результатами работ и историей доработок.
func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	if err := r.db.GetContext(ctx, &m, `SELECT * FROM milestones WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("milestone repository: get by id %w", err)
	}

	if err := r.db.SelectContext(ctx, &m.Deliverables, `
		SELECT * FROM deliverables WHERE milestone_id = $1 ORDER BY position ASC
	`, id); err != nil {
		return nil, fmt.Errorf("milestone repository: load deliverables %w", err)
	}

	if err := r.db.SelectContext(ctx, &m.Revisions, `
		SELECT * FROM revision_requests WHERE milestone_id = $1 ORDER BY requested_at ASC
	`, id); err != nil {
		return nil, fmt.Errorf("milestone repository: load revisions %w", err)
	}

	return &m, nil
}

// ListByProject возвращает вехи проекта в порядке создания.
func (r *MilestoneRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := r.db.SelectContext(ctx, &milestones, `
		SELECT * FROM milestones WHERE project_id = $1 ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: list by project %w", err)
	}
	return milestones, nil
}

// SumAmountsByProject возвращает сумму всех вех проекта в минорных единицах.
func (r *MilestoneRepository) SumAmountsByProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM milestones WHERE project_id = $1
	`, projectID)
	if err != nil {
		return 0, fmt.Errorf("milestone repository: sum amounts %w", err)
	}
	return sum, nil
}

// MarkStarted переводит pending -> in_progress (CAS по статусу).
// Возвращает false, если веха уже не в pending.
func (r *MilestoneRepository) MarkStarted(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones
		SET status = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.MilestoneStatusInProgress, models.MilestoneStatusPending)
	if err != nil {
		return false, fmt.Errorf("milestone repository: mark started %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveSubmission переводит in_progress|revision_requested -> submitted и
// прикладывает результаты работ одной транзакцией.
func (r *MilestoneRepository) SaveSubmission(ctx context.Context, id uuid.UUID, notes *string, deliverables []models.Deliverable) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE milestones
		SET status = $2, submission_notes = $3, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.MilestoneStatusSubmitted, notes,
		models.MilestoneStatusInProgress, models.MilestoneStatusRevisionRequested)
	if err != nil {
		return false, fmt.Errorf("milestone repository: save submission %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	for i := range deliverables {
		d := &deliverables[i]
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO deliverables (milestone_id, media_id, note, position)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, id, d.MediaID, d.Note, d.Position).Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("milestone repository: insert deliverable %w", err)
		}
	}

	return true, tx.Commit()
}

// SaveRevisionRequest переводит submitted -> revision_requested и сохраняет
// запрос доработки одной транзакцией.
func (r *MilestoneRepository) SaveRevisionRequest(ctx context.Context, rev *models.RevisionRequest) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE milestones SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, rev.MilestoneID, models.MilestoneStatusRevisionRequested, models.MilestoneStatusSubmitted)
	if err != nil {
		return false, fmt.Errorf("milestone repository: request revision %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO revision_requests (milestone_id, requested_by, notes)
		VALUES ($1, $2, $3)
		RETURNING id, requested_at
	`, rev.MilestoneID, rev.RequestedBy, rev.Notes).Scan(&rev.ID, &rev.RequestedAt)
	if err != nil {
		return false, fmt.Errorf("milestone repository: insert revision %w", err)
	}

	return true, tx.Commit()
}

// ListAutoApprovable возвращает вехи в статусе submitted, у которых истёк
// срок автоприёмки проекта.
func (r *MilestoneRepository) ListAutoApprovable(ctx context.Context, now time.Time) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := r.db.SelectContext(ctx, &milestones, `
		SELECT m.* FROM milestones m
		JOIN projects p ON p.id = m.project_id
		WHERE m.status = $1
		  AND m.submitted_at IS NOT NULL
		  AND m.submitted_at + make_interval(days => p.auto_approve_days) <= $2
	`, models.MilestoneStatusSubmitted, now)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: list auto approvable %w", err)
	}
	return milestones, nil
}
