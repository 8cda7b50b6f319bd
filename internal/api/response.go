package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/revittco/cshub/internal/auth"
	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/platform"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errBadRequest marks caller mistakes: malformed bodies, missing fields.
var errBadRequest = errors.New("bad request")

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string        { return e.msg }
func (e *badRequestError) Is(target error) bool { return target == errBadRequest }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// writeError maps err onto a status and writes {ok:false, error}. Errors
// reaching this point never carry decrypted token material.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", requestID(r.Context()),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor is the single error to HTTP status mapping.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest), errors.Is(err, oauth.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, oauth.ErrNotFound), errors.Is(err, oauth.ErrLocationNotFound):
		return http.StatusNotFound
	}
	// Platform statuses pass through; transport failures already carry a
	// synthesized 502, 503 or 504.
	if ue, ok := platform.IsUpstream(err); ok {
		if ue.Status >= 400 && ue.Status <= 599 {
			return ue.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a single JSON value into v and validates it. Unknown
// fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	return decode(r, v, false)
}

// decodeOptionalJSON is decodeJSON but treats an empty body as {}.
func decodeOptionalJSON(r *http.Request, v any) error {
	return decode(r, v, true)
}

func decode(r *http.Request, v any, allowEmpty bool) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return validateBody(v)
		}
		return badRequest("invalid request body: " + err.Error())
	}
	if dec.More() {
		return badRequest("invalid request body: multiple JSON values")
	}
	return validateBody(v)
}

func validateBody(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return badRequest(fe.Field() + " is required")
			}
			return badRequest(fe.Field() + " is invalid")
		}
		return badRequest(err.Error())
	}
	return nil
}
