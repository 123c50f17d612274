package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/retina-api/internal/catalog"
	"github.com/Brownie44l1/retina-api/internal/prediction"
)

// UploadField is the multipart field carrying the image.
const UploadField = "file"

type Handler struct {
	service        *prediction.Service
	maxUploadBytes int64
}

func NewHandler(service *prediction.Service, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type classInfo struct {
	Code     string `json:"code"`
	FullName string `json:"full_name"`
}

type modelInfo struct {
	Classes    []classInfo `json:"classes"`
	InputShape []int       `json:"input_shape"`
	Threshold  float32     `json:"threshold"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// ModelInfo lists the catalog in model output order.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	codes := h.service.Catalog().Codes()
	info := modelInfo{
		Classes:    make([]classInfo, len(codes)),
		InputShape: h.service.InputShape(),
		Threshold:  h.service.Config().Threshold,
	}
	for i, code := range codes {
		info.Classes[i] = classInfo{Code: code, FullName: catalog.FullName(code)}
	}
	respondJSON(w, info, http.StatusOK)
}

// Predict classifies an uploaded fundus image. Request-level problems
// (no multipart body, missing field, oversized upload) are 4xx; anything
// that fails once the bytes are in hand is a 500 with the error text.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			respondError(w, fmt.Sprintf("field required: %s", UploadField), http.StatusUnprocessableEntity)
			return
		}
		respondError(w, fmt.Sprintf("failed to read upload: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error().Err(err).Msg("reading upload failed")
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Debug().Str("filename", header.Filename).Int("bytes", len(data)).Msg("received file")

	result, err := h.service.Predict(r.Context(), data)
	if err != nil {
		logger.Error().Err(err).Str("kind", prediction.KindOf(err).String()).
			Str("filename", header.Filename).Msg("prediction failed")
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, result, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, detail string, status int) {
	respondJSON(w, errorResponse{Detail: detail}, status)
}
