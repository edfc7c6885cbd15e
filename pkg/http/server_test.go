package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name  string  `json:"name" validate:"required"`
	Paths int     `json:"paths" default:"100" validate:"gt=0,lte=1000"`
	Kind  string  `json:"kind" default:"CALL" validate:"oneof=CALL PUT"`
	Rate  float64 `json:"rate"`
}

type sampleHandler struct{}

func (sampleHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/sample", func(c echo.Context) error {
		var req sampleRequest
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/app-error", func(c echo.Context) error {
		return BadRequestError("strike", "strike must be positive")
	})
	e.GET("/plain-error", func(c echo.Context) error { return errors.New("db down") })
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(WithMetrics("/metrics", prometheus.NewRegistry()))
	s.Register(sampleHandler{})
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestReadAndValidateAppliesDefaults(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodPost, "/sample", `{"name":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(100), data["paths"])
	assert.Equal(t, "CALL", data["kind"])
}

func TestReadAndValidateReportsJSONNames(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodPost, "/sample", `{"paths":5000,"kind":"SWAP"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	errs := body["data"].([]any)
	fields := map[string]string{}
	for _, e := range errs {
		m := e.(map[string]any)
		fields[m["field"].(string)] = m["code"].(string)
	}
	assert.Equal(t, map[string]string{
		"name":  "ERR_REQUIRED",
		"paths": "ERR_LTE",
		"kind":  "ERR_ONEOF",
	}, fields)
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodPost, "/sample", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorEnvelopes(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodGet, "/app-error", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_BAD_REQUEST")

	rec = do(s, http.MethodGet, "/plain-error", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")

	rec = do(s, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(404), decode(t, rec)["status"])
}

func TestRecoverFromPanic(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/sample", nil)
	req.Header.Set(echo.HeaderOrigin, "http://example.test")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://example.test", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(s, http.MethodPost, "/sample", `{"name":"x"}`)

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sabrlsm_http_requests_total{method="POST",route="/sample",status="200"} 1`)
}

func TestValidationErrorsAsError(t *testing.T) {
	assert.NoError(t, ValidationErrorsAsError(nil))
	err := ValidationErrorsAsError([]ValidationError{{Message: "a"}, {Message: "b"}})
	assert.EqualError(t, err, "a; b")
}
