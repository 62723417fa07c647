package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/flowforge/pkg/schema"
)

// maxBodyBytes caps request bodies; graphs are small documents.
const maxBodyBytes = 4 << 20

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFlowError writes err with its code, node and details when it is a
// FlowError.
func writeFlowError(w http.ResponseWriter, status int, err error) {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, errorBody{
		Error:   fe.Message,
		Code:    fe.Code,
		NodeID:  fe.NodeID,
		Details: fe.Details,
	})
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch schema.ErrorCode(err) {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition, schema.ErrCodeCancelled:
		return http.StatusConflict
	case schema.ErrCodeCycleDetected:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case schema.ErrCodeCollaborator, schema.ErrCodeCircuitOpen, schema.ErrCodeRetryExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return requestError(err)
	}
	return nil
}

// requestError turns validator failures into one VALIDATION error listing
// each offending field.
func requestError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	fields := make(map[string]any, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return schema.NewError(schema.ErrCodeValidation, "invalid request: "+strings.Join(msgs, ", ")).
		WithDetails(fields)
}
