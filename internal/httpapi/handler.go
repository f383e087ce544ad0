// Package httpapi wires the grid's HTTP endpoints to the distributor and
// the session request queue.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/distributor"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/pslog"
)

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Config carries the handler's collaborators.
type Config struct {
	Distributor  *distributor.Distributor
	Logger       pslog.Logger
	Clock        clock.Clock
	MaxBodyBytes int64
}

// Handler wires HTTP endpoints to distributor operations.
type Handler struct {
	dist         *distributor.Distributor
	logger       pslog.Logger
	clock        clock.Clock
	maxBodyBytes int64
}

// New builds a Handler around the distributor.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		dist:         cfg.Distributor,
		logger:       logger.With("sys", "httpapi"),
		clock:        clk,
		maxBodyBytes: maxBody,
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// Register attaches the grid endpoints to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/v1/session", h.wrap("session.new", h.handleNewSession))
	mux.Handle("/v1/node", h.wrap("node.register", h.handleRegisterNode))
	mux.Handle("/v1/node/{id}/drain", h.wrap("node.drain", h.handleDrainNode))
	mux.Handle("/v1/status", h.wrap("status", h.handleStatus))
	mux.Handle("/v1/queue", h.wrap("queue", h.handleQueue))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealthz))
	mux.Handle("/readyz", h.wrap("readyz", h.handleReadyz))
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		logger := h.logger.With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := pslog.ContextWithLogger(r.Context(), logger)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "operation", operation, "remote_addr", r.RemoteAddr)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		}
		if err := fn(w, r); err != nil {
			h.handleError(logger, w, err)
			return
		}
		logger.Trace("http.request.done", "operation", operation, "elapsed", time.Since(start))
	})
}

func (h *Handler) handleError(logger pslog.Logger, w http.ResponseWriter, err error) {
	var failure grid.Failure
	if errors.As(err, &failure) {
		status := failure.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		logger.Debug("http.request.failure",
			"status", status,
			"code", failure.Code,
			"detail", failure.Detail,
		)
		resp := api.ErrorResponse{
			ErrorCode: failure.Code,
			Detail:    failure.Detail,
		}
		var headers map[string]string
		if grid.IsRetryable(err) {
			resp.RetryAfterSeconds = 1
			headers = map[string]string{"Retry-After": strconv.FormatInt(resp.RetryAfterSeconds, 10)}
		}
		h.writeJSON(w, status, resp, headers)
		return
	}
	logger.Error("http.request.error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func (h *Handler) decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return grid.WrapFailure(grid.CodeMalformedRequest, "invalid JSON payload: "+err.Error(), err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allow string) error {
	w.Header().Set("Allow", allow)
	return grid.Failure{
		Code:       "method_not_allowed",
		Detail:     "supported methods: " + allow,
		HTTPStatus: http.StatusMethodNotAllowed,
	}
}
