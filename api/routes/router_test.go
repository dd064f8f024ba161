package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentflow-backend/internal/assignment"
	"github.com/angelmondragon/rentflow-backend/internal/inventory"
	"github.com/angelmondragon/rentflow-backend/internal/pricing"
	"github.com/angelmondragon/rentflow-backend/internal/rentals"
	"github.com/angelmondragon/rentflow-backend/internal/testdb"
	"github.com/angelmondragon/rentflow-backend/pkg/auth"
	"github.com/angelmondragon/rentflow-backend/pkg/config"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
)

type harness struct {
	t       *testing.T
	cfg     *config.Config
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "rentflow-test", ExpirationMinutes: 30},
		HTTP: config.HTTPConfig{
			CORSAllowedOrigins: []string{"http://localhost:3000"},
			RateLimitWindow:    time.Minute,
		},
	}
	client := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	coordMetrics := metrics.NewCoordinatorMetrics(reg)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	inv, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(client.DB()),
		TxRunner:   client,
		Outbox:     emitter,
		Logger:     logg,
	})
	require.NoError(t, err)
	prices, err := pricing.NewService(pricing.ServiceParams{
		Repository: pricing.NewRepository(client.DB()),
		TxRunner:   client,
		Logger:     logg,
		Metrics:    coordMetrics,
	})
	require.NoError(t, err)
	jobs, err := rentals.NewService(rentals.ServiceParams{
		Repository: rentals.NewRepository(client.DB()),
		TxRunner:   client,
		Ledger:     inv,
		Outbox:     emitter,
		Logger:     logg,
	})
	require.NoError(t, err)
	coord, err := assignment.NewService(assignment.ServiceParams{
		Repository:    assignment.NewRepository(client.DB()),
		TxRunner:      client,
		Jobs:          jobs,
		Outbox:        emitter,
		Logger:        logg,
		Metrics:       coordMetrics,
		OfferTTL:      10 * time.Minute,
		MaxActiveJobs: 3,
	})
	require.NoError(t, err)

	handler := NewRouter(Params{
		Config:     cfg,
		Logger:     logg,
		DB:         client,
		Inventory:  inv,
		Pricing:    prices,
		Jobs:       jobs,
		Assignment: coord,
		Metrics:    metrics.NewHTTPMetrics(reg),
		Gatherer:   reg,
	})
	return &harness{t: t, cfg: cfg, handler: handler}
}

func (h *harness) token(agentID *uuid.UUID, caps ...enums.Capability) (string, uuid.UUID) {
	h.t.Helper()
	subject := uuid.New()
	token, err := auth.MintAccessToken(h.cfg.JWT, time.Now(), auth.AccessTokenPayload{
		SubjectID:    subject,
		AgentID:      agentID,
		Capabilities: caps,
	})
	require.NoError(h.t, err)
	return token, subject
}

func (h *harness) tieredToken(tier enums.CustomerTier) string {
	h.t.Helper()
	token, err := auth.MintAccessToken(h.cfg.JWT, time.Now(), auth.AccessTokenPayload{
		SubjectID:    uuid.New(),
		Capabilities: []enums.Capability{enums.CapabilityReserve},
		CustomerTier: tier,
	})
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Error.Code
}

// catalog registers an item with stock, a standard daily rule and one agent
// covering the job area. It returns the item and agent ids.
func (h *harness) catalog(operator string, stock int) (uuid.UUID, uuid.UUID) {
	h.t.Helper()
	itemID, agentID := uuid.New(), uuid.New()

	rec := h.do(http.MethodPost, "/api/v1/admin/items", operator,
		`{"item_id":"`+itemID.String()+`","total_qty":`+decimal.NewFromInt(int64(stock)).String()+`}`)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/v1/admin/pricing-rules", operator, `{
		"item_id":"`+itemID.String()+`",
		"customer_tier":"standard",
		"duration_unit":"day",
		"base_price":"10",
		"per_unit_price":"5",
		"delivery_fee":"20"
	}`)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/v1/admin/agents", operator, `{
		"agent_id":"`+agentID.String()+`",
		"available":true,
		"service_center":{"lat":40.7128,"lng":-74.0060},
		"service_radius_km":30,
		"success_rate":"0.9"
	}`)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return itemID, agentID
}

func (h *harness) reserve(customer string, itemID uuid.UUID, qty string) string {
	h.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations",
		strings.NewReader(`{"item_id":"`+itemID.String()+`","quantity":`+qty+`}`))
	req.Header.Set("Authorization", "Bearer "+customer)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData(h.t, rec)["reservation_id"].(string)
}

func (h *harness) createJob(customer, reservationID string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/jobs", customer, `{
		"origin":{"lat":40.7128,"lng":-74.0060},
		"destination":{"lat":40.7306,"lng":-73.9352},
		"lines":[{"reservation_id":"`+reservationID+`","duration_unit":"day","duration_count":3}]
	}`)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(h.t, rec)
	assert.Equal(h.t, "pending", data["status"])
	return data["job_id"].(string)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Rentflow-Env"))

	rec = h.do(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ready", decodeData(t, rec)["status"])
}

func TestMetricsExposeRequestCounters(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/health/live", "", "")

	rec := h.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rentflow_http_requests_total{method="GET",route="/health/live",status="200"} 1`)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/quotes", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestCapabilitiesGateRoutes(t *testing.T) {
	h := newHarness(t)
	agentID := uuid.New()
	agent, _ := h.token(&agentID, enums.CapabilityRespondAsAgent)
	customer, _ := h.token(nil, enums.CapabilityReserve)

	rec := h.do(http.MethodPost, "/api/v1/admin/items", agent, `{"item_id":"`+uuid.NewString()+`","total_qty":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/dispatch", customer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/quotes", agent, `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQuoteRoute(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	itemID, _ := h.catalog(operator, 5)

	rec := h.do(http.MethodPost, "/api/v1/quotes", customer, `{
		"item_id":"`+itemID.String()+`",
		"customer_tier":"Standard",
		"duration_unit":"DAY",
		"duration_count":2,
		"quantity":1
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, itemID.String(), data["item_id"])

	rec = h.do(http.MethodPost, "/api/v1/quotes", customer, `{
		"item_id":"`+itemID.String()+`",
		"customer_tier":"premium",
		"duration_unit":"day",
		"duration_count":2,
		"quantity":1
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NO_APPLICABLE_PRICING_RULE", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/api/v1/quotes", customer, `{
		"item_id":"`+itemID.String()+`",
		"customer_tier":"enterprise",
		"duration_unit":"day",
		"duration_count":2,
		"quantity":1
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestReserveRejectsOverdraw(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	itemID, _ := h.catalog(operator, 2)

	h.reserve(customer, itemID, "2")

	rec := h.do(http.MethodPost, "/api/v1/reservations", customer, `{"item_id":"`+itemID.String()+`","quantity":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_INVENTORY", errorCode(t, rec))
}

func TestReleaseRoute(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	itemID, _ := h.catalog(operator, 5)

	loose := h.reserve(customer, itemID, "1")
	rec := h.do(http.MethodPost, "/api/v1/reservations/"+loose+"/release", operator, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "released", decodeData(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/v1/reservations/"+loose+"/release", operator, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	bound := h.reserve(customer, itemID, "1")
	h.createJob(customer, bound)
	rec = h.do(http.MethodPost, "/api/v1/reservations/"+bound+"/release", operator, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STATE_CONFLICT", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/api/v1/reservations/not-a-uuid/release", operator, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleThroughAPI(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	itemID, agentID := h.catalog(operator, 5)

	jobID := h.createJob(customer, h.reserve(customer, itemID, "2"))

	stranger, _ := h.token(nil, enums.CapabilityReserve)
	rec := h.do(http.MethodGet, "/api/v1/jobs/"+jobID, stranger, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/jobs/"+jobID, customer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeData(t, rec)
	assert.Len(t, snapshot["lines"], 1)
	assert.NotEqual(t, "0", snapshot["total_fare"])

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/dispatch", operator, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offer := decodeData(t, rec)
	assert.Equal(t, agentID.String(), offer["agent_id"])
	offerID := offer["offer_id"].(string)

	otherAgent := uuid.New()
	intruder, _ := h.token(&otherAgent, enums.CapabilityRespondAsAgent)
	rec = h.do(http.MethodPost, "/api/v1/offers/"+offerID+"/respond", intruder, `{"decision":"accept"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	agent, _ := h.token(&agentID, enums.CapabilityRespondAsAgent)
	rec = h.do(http.MethodPost, "/api/v1/offers/"+offerID+"/respond", agent, `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/offers/"+offerID+"/respond", agent, `{"decision":"accept"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decodeData(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/start", intruder, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/start", agent, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decodeData(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/complete", agent, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decodeData(t, rec)["status"])

	rec = h.do(http.MethodGet, "/api/v1/jobs/"+jobID, agent, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot = decodeData(t, rec)
	assert.Equal(t, "completed", snapshot["status"])
	assert.NotEmpty(t, snapshot["transitions"])
	assert.Len(t, snapshot["offers"], 1)

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", operator, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelJobRoute(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	itemID, _ := h.catalog(operator, 3)

	jobID := h.createJob(customer, h.reserve(customer, itemID, "3"))
	rec := h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/dispatch", operator, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", operator, `{"reason":"  customer called  "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "cancelled", data["status"])
	assert.Equal(t, "customer called", data["failure_reason"])

	// stock is back, so the full quantity can be held again
	h.reserve(customer, itemID, "3")
}

func TestCancelJobByCustomer(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	customer, _ := h.token(nil, enums.CapabilityReserve)
	other, _ := h.token(nil, enums.CapabilityReserve)
	itemID, agentID := h.catalog(operator, 2)

	jobID := h.createJob(customer, h.reserve(customer, itemID, "2"))

	rec := h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	agent, _ := h.token(&agentID, enums.CapabilityRespondAsAgent, enums.CapabilityCancel)
	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", agent, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/api/v1/jobs/"+jobID, customer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decodeData(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", customer, `{"reason":"changed plans"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeData(t, rec)["status"])

	h.reserve(other, itemID, "2")
}

func TestCreateJobPricesAtTokenTier(t *testing.T) {
	h := newHarness(t)
	operator, _ := h.token(nil, enums.CapabilityCancel)
	itemID, _ := h.catalog(operator, 4)

	premium := h.tieredToken(enums.CustomerTierPremium)
	reservationID := h.reserve(premium, itemID, "1")

	rec := h.do(http.MethodPost, "/api/v1/jobs", premium, `{
		"customer_tier":"standard",
		"origin":{"lat":40.7128,"lng":-74.0060},
		"destination":{"lat":40.7306,"lng":-73.9352},
		"lines":[{"reservation_id":"`+reservationID+`","duration_unit":"day","duration_count":1}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/v1/jobs", premium, `{
		"origin":{"lat":40.7128,"lng":-74.0060},
		"destination":{"lat":40.7306,"lng":-73.9352},
		"lines":[{"reservation_id":"`+reservationID+`","duration_unit":"day","duration_count":1}]
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "NO_APPLICABLE_PRICING_RULE", errorCode(t, rec))

	standard := h.tieredToken(enums.CustomerTierStandard)
	jobID := h.createJob(standard, h.reserve(standard, itemID, "1"))
	rec = h.do(http.MethodGet, "/api/v1/jobs/"+jobID, standard, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "standard", decodeData(t, rec)["customer_tier"])
}

func TestCreateJobValidation(t *testing.T) {
	h := newHarness(t)
	customer, _ := h.token(nil, enums.CapabilityReserve)

	cases := map[string]string{
		"no lines":      `{"origin":{"lat":1,"lng":1},"destination":{"lat":1,"lng":1},"lines":[]}`,
		"no origin":     `{"destination":{"lat":1,"lng":1},"lines":[{"reservation_id":"` + uuid.NewString() + `","duration_unit":"day","duration_count":1}]}`,
		"bad latitude":  `{"origin":{"lat":91,"lng":1},"destination":{"lat":1,"lng":1},"lines":[{"reservation_id":"` + uuid.NewString() + `","duration_unit":"day","duration_count":1}]}`,
		"unknown field": `{"surprise":true}`,
		"bad unit":      `{"origin":{"lat":1,"lng":1},"destination":{"lat":1,"lng":1},"lines":[{"reservation_id":"` + uuid.NewString() + `","duration_unit":"fortnight","duration_count":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/v1/jobs", customer, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
		})
	}
}

func TestCreateJobUnknownReservation(t *testing.T) {
	h := newHarness(t)
	customer, _ := h.token(nil, enums.CapabilityReserve)

	rec := h.do(http.MethodPost, "/api/v1/jobs", customer, `{
		"origin":{"lat":40.7,"lng":-74.0},
		"destination":{"lat":40.7,"lng":-73.9},
		"lines":[{"reservation_id":"`+uuid.NewString()+`","duration_unit":"day","duration_count":1}]
	}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/v2/jobs", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
