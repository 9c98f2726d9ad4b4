package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ActivityRepository отвечает за журнал действий проекта. Журнал только
// дописывается, записи никогда не меняются и не удаляются.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository создаёт экземпляр репозитория.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Add дописывает запись в журнал проекта.
func (r *ActivityRepository) Add(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("activity repository: marshal metadata %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_log (project_id, actor_id, action, metadata)
		VALUES ($1, $2, $3, $4)
	`, projectID, actorID, action, raw)
	if err != nil {
		return fmt.Errorf("activity repository: add %w", err)
	}
	return nil
}

// ListByProject возвращает журнал проекта от новых записей к старым.
func (r *ActivityRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.ActivityLogEntry, error) {
	var entries []models.ActivityLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM activity_log WHERE project_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("activity repository: list by project %w", err)
	}
	return entries, nil
}
