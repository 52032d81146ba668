package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/handlers"
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/ratelimit"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockService implements only what a test sets up. Anything else panics
// through the nil embedded interface.
type mockService struct {
	service.Service
	mock.Mock
}

func (m *mockService) AuthenticateDevice(ctx context.Context, deviceID, apiKey string) (*models.Device, error) {
	args := m.Called(deviceID, apiKey)
	device, _ := args.Get(0).(*models.Device)
	return device, args.Error(1)
}

func (m *mockService) AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	args := m.Called(key)
	apiKey, _ := args.Get(0).(*models.APIKey)
	return apiKey, args.Error(1)
}

func (m *mockService) IngestTelemetry(ctx context.Context, device *models.Device, in service.TelemetryInput) error {
	return m.Called(device.DeviceID).Error(0)
}

func (m *mockService) Heartbeat(ctx context.Context, device *models.Device, in service.HeartbeatInput) (time.Time, error) {
	args := m.Called(device.DeviceID, in)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockService) RecordReceipt(ctx context.Context, device *models.Device, in service.ReceiptInput) (*service.ReceiptResult, error) {
	args := m.Called(device.DeviceID)
	res, _ := args.Get(0).(*service.ReceiptResult)
	return res, args.Error(1)
}

func (m *mockService) PullCommand(ctx context.Context, device *models.Device) (*models.Command, error) {
	args := m.Called(device.DeviceID)
	cmd, _ := args.Get(0).(*models.Command)
	return cmd, args.Error(1)
}

func (m *mockService) VerifyPin(ctx context.Context, device *models.Device, in service.PinVerifyInput) (*models.Operator, error) {
	args := m.Called(device.DeviceID, in.Pin)
	op, _ := args.Get(0).(*models.Operator)
	return op, args.Error(1)
}

func (m *mockService) ListDevices(ctx context.Context, actor service.Actor) ([]*models.Device, error) {
	args := m.Called(actor.Name)
	devices, _ := args.Get(0).([]*models.Device)
	return devices, args.Error(1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	svc    *mockService
	server *Server
}

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, ready map[string]handlers.Pinger) *harness {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0, Mode: "test"},
		RateLimit: config.RateLimitConfig{
			Telemetry: 2 * time.Second,
		},
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	svc := &mockService{}
	limiter := ratelimit.NewMemory(func() time.Time { return fixedNow })

	return &harness{
		svc:    svc,
		server: NewServer(cfg, log, nil, svc, limiter, ready),
	}
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func deviceHeaders(id string) map[string]string {
	return map[string]string{"x-device-id": id, "x-api-key": "secret"}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (h *harness) authenticate(id string) *models.Device {
	device := &models.Device{DeviceID: id}
	h.svc.On("AuthenticateDevice", id, "secret").Return(device, nil)
	return device
}

func TestDeviceAuth_FailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.On("AuthenticateDevice", "OIL-9999", "secret").Return(nil, service.ErrUnauthorized)
	h.svc.On("AuthenticateDevice", "OIL-0001", "wrong").Return(nil, service.ErrUnauthorized)

	unknown := h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-9999"))
	wrong := h.do(http.MethodPost, "/api/device/telemetry", `{}`,
		map[string]string{"x-device-id": "OIL-0001", "x-api-key": "wrong"})
	missing := h.do(http.MethodPost, "/api/device/telemetry", `{}`, nil)

	for _, w := range []*httptest.ResponseRecorder{unknown, wrong, missing} {
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"ok":false,"error":"Unauthorized"}`, w.Body.String())
	}
}

func TestTelemetry_RateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.svc.On("IngestTelemetry", "OIL-0001").Return(nil)

	first := h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0001"))
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"ok":true}`, first.Body.String())

	second := h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0001"))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"ok":false,"error":"Too many requests","waitMs":2000}`, second.Body.String())

	h.svc.AssertNumberOfCalls(t, "IngestTelemetry", 1)
}

func TestTelemetry_LimitIsPerDevice(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.authenticate("OIL-0002")
	h.svc.On("IngestTelemetry", mock.Anything).Return(nil)

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0001")).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0002")).Code)
}

func TestTelemetry_ValidationDetails(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.svc.On("IngestTelemetry", "OIL-0001").Return(&service.ValidationError{
		Fields: map[string]string{"oilPercent": "is required"},
	})

	w := h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0001"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Validation failed","details":{"oilPercent":"is required"}}`, w.Body.String())
}

func TestTelemetry_MalformedBody(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")

	w := h.do(http.MethodPost, "/api/device/telemetry", `{"ts":`, deviceHeaders("OIL-0001"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Validation failed","details":{"body":"must be a valid JSON object"}}`, w.Body.String())
	h.svc.AssertNotCalled(t, "IngestTelemetry", mock.Anything)
}

func TestTelemetry_InternalErrorIsOpaque(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.svc.On("IngestTelemetry", "OIL-0001").Return(errors.New("pq: connection refused"))

	w := h.do(http.MethodPost, "/api/device/telemetry", `{}`, deviceHeaders("OIL-0001"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Internal server error"}`, w.Body.String())
}

func TestReceipt_CreatedThenReplayed(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	tx := &models.DispenseTransaction{ID: "tx-1", SessionID: "S-1"}
	h.svc.On("RecordReceipt", "OIL-0001").Return(&service.ReceiptResult{Transaction: tx, Created: true}, nil).Once()
	h.svc.On("RecordReceipt", "OIL-0001").Return(&service.ReceiptResult{Transaction: tx, Created: false}, nil).Once()

	created := h.do(http.MethodPost, "/api/device/receipts", `{"sessionId":"S-1"}`, deviceHeaders("OIL-0001"))
	replayed := h.do(http.MethodPost, "/api/device/receipts", `{"sessionId":"S-1"}`, deviceHeaders("OIL-0001"))

	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, http.StatusOK, replayed.Code)

	body := decode(t, replayed)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "S-1", body["transaction"].(map[string]interface{})["session_id"])
}

func TestHeartbeat_EmptyBody(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.svc.On("Heartbeat", "OIL-0001", service.HeartbeatInput{}).Return(fixedNow, nil)

	w := h.do(http.MethodPost, "/api/device/heartbeat", "", deviceHeaders("OIL-0001"))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(fixedNow.UnixMilli()), body["serverTime"])
}

func TestPullCommand(t *testing.T) {
	t.Run("nothing pending", func(t *testing.T) {
		h := newHarness(t, nil)
		h.authenticate("OIL-0001")
		h.svc.On("PullCommand", "OIL-0001").Return(nil, nil)

		w := h.do(http.MethodGet, "/api/device/commands/pull", "", deviceHeaders("OIL-0001"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true,"command":null}`, w.Body.String())
	})

	t.Run("pending command", func(t *testing.T) {
		h := newHarness(t, nil)
		h.authenticate("OIL-0001")
		expires := fixedNow.Add(5 * time.Minute)
		h.svc.On("PullCommand", "OIL-0001").Return(&models.Command{
			ID:        "cmd-1",
			Type:      models.CommandType("SET_PRICE"),
			Payload:   `{"pricePerLiter":50}`,
			ExpiresAt: expires,
		}, nil)

		w := h.do(http.MethodGet, "/api/device/commands/pull", "", deviceHeaders("OIL-0001"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true,"command":{"id":"cmd-1","type":"SET_PRICE","payload":{"pricePerLiter":50},"expiresAt":`+
			jsonInt(expires.UnixMilli())+`}}`, w.Body.String())
	})
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestVerifyPin(t *testing.T) {
	h := newHarness(t, nil)
	h.authenticate("OIL-0001")
	h.svc.On("VerifyPin", "OIL-0001", "1234").Return(&models.Operator{Model: models.Model{ID: 7}, Name: "Ada", Role: "ATTENDANT"}, nil)
	h.svc.On("VerifyPin", "OIL-0001", "9999").Return(nil, service.ErrInvalidPIN)

	ok := h.do(http.MethodPost, "/api/device/pin/verify", `{"pin":"1234"}`, deviceHeaders("OIL-0001"))
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"ok":true,"operatorId":7,"name":"Ada","role":"ATTENDANT"}`, ok.Body.String())

	bad := h.do(http.MethodPost, "/api/device/pin/verify", `{"pin":"9999"}`, deviceHeaders("OIL-0001"))
	assert.Equal(t, http.StatusForbidden, bad.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Invalid PIN"}`, bad.Body.String())
}

func TestOwnerAPI_AuthorizationLevels(t *testing.T) {
	h := newHarness(t, nil)
	owner := uint(1)
	h.svc.On("AuthenticateAPIKey", "viewer-key").Return(&models.APIKey{
		Name: "viewer", OwnerID: &owner, AuthorizationLevel: models.ViewerAuthLevel,
	}, nil)
	h.svc.On("AuthenticateAPIKey", "bogus").Return(nil, service.ErrUnauthorized)
	h.svc.On("ListDevices", "viewer").Return([]*models.Device{{DeviceID: "OIL-0001"}}, nil)

	viewer := map[string]string{"Authorization": "Bearer viewer-key"}

	list := h.do(http.MethodGet, "/api/v1/owner/devices", "", viewer)
	assert.Equal(t, http.StatusOK, list.Code)
	devices := decode(t, list)["devices"].([]interface{})
	assert.Len(t, devices, 1)

	provision := h.do(http.MethodPost, "/api/v1/owner/devices", `{"siteName":"Depot"}`, viewer)
	assert.Equal(t, http.StatusForbidden, provision.Code)

	noToken := h.do(http.MethodGet, "/api/v1/owner/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, noToken.Code)

	bogus := h.do(http.MethodGet, "/api/v1/owner/devices", "", map[string]string{"Authorization": "Bearer bogus"})
	assert.Equal(t, http.StatusUnauthorized, bogus.Code)
	assert.JSONEq(t, noToken.Body.String(), bogus.Body.String())
}

func TestReady(t *testing.T) {
	healthy := newHarness(t, map[string]handlers.Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
	})
	w := healthy.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newHarness(t, map[string]handlers.Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }),
	})
	w = down.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "dial tcp: refused", body["checks"].(map[string]interface{})["redis"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "", nil).Code)

	metrics := h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}
