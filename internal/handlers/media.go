package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/taranggg/lms-sub000/internal/models"
)

// Multipart framing allowance on top of the file size limit.
const multipartOverhead = 1 << 20

type MediaUploader interface {
	Upload(ctx context.Context, filename, contentType string, size int64, body io.Reader) (*models.MediaUpload, error)
	MaxBytes() int64
}

type MediaHandler struct {
	media MediaUploader
}

func NewMediaHandler(media MediaUploader) *MediaHandler {
	return &MediaHandler{media: media}
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.media.MaxBytes()
	limitMB := maxBytes / (1024 * 1024)

	if r.ContentLength > maxBytes+multipartOverhead {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", fmt.Sprintf("File size exceeds %dMB limit", limitMB), r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", fmt.Sprintf("File size exceeds %dMB limit", limitMB), r))
			return
		}
		validationFailed(w, r, "file", "No file uploaded")
		return
	}
	defer file.Close()

	upload, err := h.media.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"fileUrl": upload.FileURL,
		"type":    upload.Type,
	})
}
