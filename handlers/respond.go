package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/middleware"
	"github.com/aj9599/submeter-billing/services"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxUploadSize = 10 << 20

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondError maps a service error to its HTTP status. Unclassified errors
// are logged and reported without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		status, message = http.StatusBadRequest, ve.Error()
	case errors.Is(err, services.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrUnauthorized):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrForbidden):
		status, message = http.StatusForbidden, "not allowed for this account"
	case errors.Is(err, services.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrUpstream):
		status, message = http.StatusBadGateway, "a dependent service failed, please retry"
	}

	l := logger.FromContext(r.Context())
	if status >= 500 {
		l.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		l.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	respondMessage(w, status, message)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, services.ErrValidation)
	}
	return nil
}

func callerContext(r *http.Request) services.AdminContext {
	ac, _ := middleware.AdminContextFrom(r.Context())
	return ac
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &services.ValidationError{Field: name, Reason: fmt.Sprintf("%q is not an id", raw)}
	}
	return id, nil
}

// pathAdmin checks that an {adminId} path segment names the caller's company.
func pathAdmin(r *http.Request) error {
	id, err := pathID(r, "adminId")
	if err != nil {
		return err
	}
	return callerContext(r).RequireSameAdmin(id)
}

// number accepts a JSON number or string and keeps the raw text, so that
// numeric fields are parsed once by the service boundary helpers.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*n = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
	case '{', '[':
		return fmt.Errorf("expected a number, got %s", b)
	default:
		*n = number(b)
	}
	return nil
}

func (n number) String() string {
	return string(n)
}

// readUpload reads an optional multipart file field.
func readUpload(r *http.Request, field string) (name, contentType string, data []byte, err error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", nil, nil
	}
	if err != nil {
		return "", "", nil, &services.ValidationError{Field: field, Reason: err.Error()}
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return "", "", nil, err
	}
	if len(data) > maxUploadSize {
		return "", "", nil, &services.ValidationError{Field: field, Reason: "file is larger than 10 MB"}
	}
	contentType = header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return header.Filename, contentType, data, nil
}

func parseMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return &services.ValidationError{Field: "body", Reason: "expected multipart/form-data: " + err.Error()}
	}
	return nil
}
