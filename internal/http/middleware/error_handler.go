package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Маскирует внутренние ошибки и возвращает понятные сообщения клиенту.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		statusCode, message := mapError(err)

		if logger.Log != nil {
			entry := logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"status": statusCode,
			})
			if statusCode >= http.StatusInternalServerError {
				entry.Error("Request error")
			} else {
				entry.Warn("Request rejected")
			}
		}

		c.JSON(statusCode, gin.H{"error": message})
	}
}

// mapError приводит ошибку к HTTP-статусу и сообщению для клиента.
func mapError(err error) (int, string) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus, appErr.Message
	}

	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, "пользователь не найден"
	case errors.Is(err, repository.ErrProjectNotFound):
		return http.StatusNotFound, "проект не найден"
	case errors.Is(err, repository.ErrMilestoneNotFound):
		return http.StatusNotFound, "веха не найдена"
	case errors.Is(err, repository.ErrDisputeNotFound):
		return http.StatusNotFound, "спор не найден"
	case errors.Is(err, repository.ErrTransactionNotFound):
		return http.StatusNotFound, "транзакция не найдена"
	case errors.Is(err, repository.ErrMediaNotFound):
		return http.StatusNotFound, "файл не найден"
	case errors.Is(err, repository.ErrNotificationNotFound):
		return http.StatusNotFound, "уведомление не найдено"
	}

	return http.StatusInternalServerError, "внутренняя ошибка сервера"
}
