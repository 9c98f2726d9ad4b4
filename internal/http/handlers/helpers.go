package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

var errUserNotFound = errors.New("пользователь не найден в контексте")

// actorProvider загружает пользователя по идентификатору из токена.
type actorProvider interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// currentUserID извлекает userID из контекста.
func currentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, errUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, errUserNotFound
	}

	return userID, nil
}

// currentActor загружает авторизованного пользователя целиком: сервисам
// нужны роль и привязки, а не только идентификатор.
func currentActor(c *gin.Context, users actorProvider) (*models.User, error) {
	userID, err := currentUserID(c)
	if err != nil {
		return nil, err
	}
	return users.GetUser(c.Request.Context(), userID)
}
