package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/storage"
)

// Разрешённые типы файлов: изображения, документы и архивы — то, чем
// фрилансеры реально сдают результаты работ и стороны подтверждают споры.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"application/zip":    true,
	"application/x-tar":  true,
	"application/gzip":   true,
	"application/x-7z-compressed": true,
}

// Разрешённые расширения файлов
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".pdf":  true,
	".zip":  true,
	".tar":  true,
	".gz":   true,
	".7z":   true,
}

// MediaHandler управляет загрузкой и удалением файлов результатов работ
// и материалов спора.
type MediaHandler struct {
	repo    *repository.MediaRepository
	storage *storage.DeliverableStorage
}

// NewMediaHandler создаёт новый хэндлер.
func NewMediaHandler(repo *repository.MediaRepository, storage *storage.DeliverableStorage) *MediaHandler {
	return &MediaHandler{repo: repo, storage: storage}
}

// Upload обрабатывает POST /media.
func (h *MediaHandler) Upload(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "поле file обязательно")
		return
	}

	if file.Size == 0 {
		common.RespondBadRequest(c, "файл не может быть пустым")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		common.RespondBadRequest(c, fmt.Sprintf("неподдерживаемый формат файла %s", ext))
		return
	}

	src, err := file.Open()
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer src.Close()

	// Первые 512 байт хватает для определения реального типа файла
	// по магическим байтам.
	buffer := make([]byte, 512)
	n, err := src.Read(buffer)
	if err != nil && err != io.EOF {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}

	kind, err := filetype.Match(buffer[:n])
	if err != nil || kind == filetype.Unknown {
		common.RespondBadRequest(c, "не удалось определить тип файла")
		return
	}

	contentType := kind.MIME.Value
	if !allowedMimeTypes[contentType] {
		common.RespondBadRequest(c, fmt.Sprintf("неподдерживаемый тип файла (%s)", contentType))
		return
	}

	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			_ = c.Error(err)
			return
		}
	}

	relativePath, size, err := h.storage.Save(c.Request.Context(), userID, file.Filename, src)
	if err != nil {
		_ = c.Error(err)
		return
	}

	media := &models.MediaFile{
		UserID:   &userID,
		FileName: file.Filename,
		FilePath: filepath.ToSlash(relativePath),
		FileType: contentType,
		FileSize: size,
	}

	if err := h.repo.Create(c.Request.Context(), media); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, media)
}

// Delete обрабатывает DELETE /media/:id.
func (h *MediaHandler) Delete(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	mediaID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "некорректный идентификатор")
		return
	}

	media, err := h.repo.GetByID(c.Request.Context(), mediaID)
	if err != nil {
		if errors.Is(err, repository.ErrMediaNotFound) {
			common.RespondNotFound(c, "файл не найден")
			return
		}
		_ = c.Error(err)
		return
	}

	// Удалять файл может только его владелец.
	if media.UserID == nil || *media.UserID != userID {
		common.RespondForbidden(c, "у вас нет прав на удаление этого файла")
		return
	}

	if err := h.repo.Delete(c.Request.Context(), mediaID); err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.storage.Delete(c.Request.Context(), media.FilePath); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
