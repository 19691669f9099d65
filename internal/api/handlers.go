package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

// errBadRequest marks request parsing failures.
var errBadRequest = errors.New("bad request")

// BatchRequest is the body of POST /api/v1/batch.
type BatchRequest struct {
	SKUIDs               []string    `json:"sku_ids"`
	Date                 models.Date `json:"date"`
	Step                 int         `json:"step"`
	ProbabilityThreshold *float64    `json:"probability_threshold,omitempty"`
	ChangeThreshold      *float64    `json:"change_threshold,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// validateSKU handles GET /api/v1/skus/{sku}/validation.
func (s *Server) validateSKU(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date, err := models.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid date: %v", err))
		return
	}
	step, err := strconv.Atoi(q.Get("step"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "step must be an integer")
		return
	}
	params, err := paramsFromQuery(s.validator.Params(), q.Get("probability_threshold"), q.Get("change_threshold"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req := validator.Request{SKUID: mux.Vars(r)["sku"], PredictionDate: date, Step: step}
	result, err := s.validator.ValidateWith(r.Context(), req, params)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// batch handles POST /api/v1/batch.
func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	params := s.validator.Params()
	if body.ProbabilityThreshold != nil {
		params.ProbabilityThreshold = *body.ProbabilityThreshold
	}
	if body.ChangeThreshold != nil {
		params.ChangeThreshold = *body.ChangeThreshold
	}

	report, err := s.validator.BatchWith(r.Context(), body.SKUIDs, body.Date, body.Step, params)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveBatch(report)
	}
	writeJSON(w, r, http.StatusOK, report)
}

func paramsFromQuery(defaults reconcile.Params, probability, change string) (reconcile.Params, error) {
	params := defaults
	if probability != "" {
		v, err := strconv.ParseFloat(probability, 64)
		if err != nil {
			return params, fmt.Errorf("%w: probability_threshold must be a number", errBadRequest)
		}
		params.ProbabilityThreshold = v
	}
	if change != "" {
		v, err := strconv.ParseFloat(change, 64)
		if err != nil {
			return params, fmt.Errorf("%w: change_threshold must be a number", errBadRequest)
		}
		params.ChangeThreshold = v
	}
	return params, nil
}

// statusFor maps contract violations to 400 and everything else (source
// failures) to 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validator.ErrInvalidRequest),
		errors.Is(err, reconcile.ErrInvalidParams),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode response for %s: %v", r.URL.Path, err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorResponse{Error: "failed to encode response", RequestID: requestID(r)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= 500 {
		logger.Warn("Request %s failed: %s", requestID(r), msg)
	}
	writeJSON(w, r, status, errorResponse{Error: msg, RequestID: requestID(r)})
}
