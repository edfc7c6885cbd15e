package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/report"
	"SabrLSM/internal/service/ratelimit"
	"SabrLSM/internal/services/lsm"
	"SabrLSM/internal/usecase"
	xhttp "SabrLSM/pkg/http"
	xlogger "SabrLSM/pkg/logger"
)

const (
	runsWindow   = 24 * time.Hour
	runsMaxLimit = 1000
)

// HealthCheck probes one backend for /healthz.
type HealthCheck func(ctx context.Context) error

// PricingEchoHandler serves the pricing API.
type PricingEchoHandler struct {
	logger  *xlogger.Logger
	uc      *usecase.PricingUseCase
	limiter *ratelimit.Limiter
	checks  map[string]HealthCheck
	now     func() time.Time
}

type HandlerOption func(*PricingEchoHandler)

// WithRateLimiter guards the compute routes, keyed by client IP.
func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *PricingEchoHandler) { h.limiter = l }
}

func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *PricingEchoHandler) { h.checks[name] = check }
}

func NewPricingEchoHandler(logger *xlogger.Logger, uc *usecase.PricingUseCase, opts ...HandlerOption) *PricingEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &PricingEchoHandler{logger: logger, uc: uc, checks: map[string]HealthCheck{}, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PricingEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/price", h.Price, h.rateLimit)
	g.POST("/convergence", h.Convergence, h.rateLimit)
	g.POST("/sensitivity", h.Sensitivity, h.rateLimit)
	g.POST("/jobs/sensitivity", h.EnqueueSensitivity, h.rateLimit)
	g.GET("/runs", h.Runs)
}

// Price values one option. ?format=text returns the plain-text report.
func (h *PricingEchoHandler) Price(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := h.uc.Resolve(*req)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	res, err := h.uc.Price(c.Request().Context(), in)
	if err != nil {
		h.logger.Error("price usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if c.QueryParam("format") == "text" {
		var buf bytes.Buffer
		if err := report.WriteText(&buf, res); err != nil {
			return xhttp.AppErrorResponse(c, err)
		}
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PricingEchoHandler) Convergence(c echo.Context) error {
	req := &models.ConvergenceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := h.uc.Resolve(req.PriceRequest)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	study, err := h.uc.Convergence(c.Request().Context(), in, req.PathCounts)
	if err != nil {
		h.logger.Error("convergence usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, study)
}

func (h *PricingEchoHandler) Sensitivity(c echo.Context) error {
	req := &models.SensitivityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := h.uc.Resolve(req.PriceRequest)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	sweeps, err := h.uc.Sweeps(c.Request().Context(), in, req.Sweeps(), "")
	if err != nil {
		h.logger.Error("sensitivity usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, sweeps, len(sweeps))
}

// EnqueueSensitivity runs the sweeps on the job queue. The use case checks
// the request before enqueueing, so bad input is still a 400.
func (h *PricingEchoHandler) EnqueueSensitivity(c echo.Context) error {
	req := &models.SensitivityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	acc, err := h.uc.EnqueueSensitivity(c.Request().Context(), *req)
	if err != nil {
		h.logger.Error("enqueue sensitivity error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.AcceptedResponse(c, acc)
}

// Runs lists stored runs. Query: kind, from, to, limit.
func (h *PricingEchoHandler) Runs(c echo.Context) error {
	kind := c.QueryParam("kind")
	switch kind {
	case "", models.KindPrice, models.KindConvergence, models.KindSensitivity:
	default:
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("kind", "unknown run kind %q", kind))
	}
	tr := xhttp.QueryTimeRange(c, runsWindow, h.now())
	if tr.From.After(tr.To) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from", "from must not be after to"))
	}
	limit := xhttp.QueryInt(c, "limit", 100)
	if limit <= 0 || limit > runsMaxLimit {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit", "limit must be in [1, %d]", runsMaxLimit).WithParam("max", runsMaxLimit))
	}

	rows, err := h.uc.Runs(c.Request().Context(), models.RunsQuery{Kind: kind, From: tr.From, To: tr.To, Limit: limit})
	if err != nil {
		h.logger.Error("runs usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

// Health runs every registered check and answers 503 if any fails.
func (h *PricingEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("check", name), xlogger.Error(err))
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return xhttp.DataResponse(c, code, status)
}

func (h *PricingEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// toAppError maps use case errors onto HTTP statuses.
func toAppError(err error) error {
	var cfgErr *lsm.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return xhttp.BadRequestError(cfgErr.Field, cfgErr.Err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrTooManyPaths):
		return xhttp.BadRequestError("n_paths", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrStorageDisabled), errors.Is(err, usecase.ErrQueueDisabled):
		return xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.TimeoutError("pricing timed out").WithError(err)
	}
	return err
}
