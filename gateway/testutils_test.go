package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/attest"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/ledger"
	"github.com/cloudx-io/rentauction/payment"
	"github.com/cloudx-io/rentauction/settlement"
)

var testSecret = []byte("gateway-test-secret")

var (
	landlordP = core.Principal{ID: "landlord_1", Role: core.RoleLandlord}
	tenantA   = core.Principal{ID: "tenant_a", Role: core.RoleTenant, Wallet: "0xaaa"}
	tenantB   = core.Principal{ID: "tenant_b", Role: core.RoleTenant}
	operatorP = core.Principal{ID: "ops", Role: core.RoleOperator}
)

// memoryCriteria is an in-memory CriteriaStore
type memoryCriteria struct {
	mu      sync.Mutex
	ratings map[string]core.CriteriaWeights
}

func newMemoryCriteria() *memoryCriteria {
	return &memoryCriteria{ratings: make(map[string]core.CriteriaWeights)}
}

func (m *memoryCriteria) SaveCriteria(_ context.Context, tenantID, propertyID string, w core.CriteriaWeights) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[tenantID+"/"+propertyID] = w
	return nil
}

func (m *memoryCriteria) CriteriaWeights(_ context.Context, tenantID, propertyID string) (core.CriteriaWeights, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.ratings[tenantID+"/"+propertyID]
	return w, ok, nil
}

type fixedOracle struct{}

func (fixedOracle) Rate(_ context.Context, fiat core.Currency) (core.Quote, error) {
	return core.Quote{Fiat: fiat, AVAX: decimal.NewFromInt(25), USDT: decimal.NewFromInt(1)}, nil
}

type testEnv struct {
	server      *Server
	ledger      *ledger.Ledger
	coordinator *settlement.Coordinator
	bus         *eventbus.Bus
	criteria    *memoryCriteria
	sealer      *attest.Sealer
}

func newTestEnv(t *testing.T, window time.Duration, maxSockets int) *testEnv {
	t.Helper()
	bus := eventbus.New()
	l := ledger.New(ledger.WithPublisher(bus), ledger.WithWindowDuration(window))
	t.Cleanup(l.Stop)

	sealer, err := attest.NewSealer(nil)
	assert.Nil(t, err)
	pemKey, err := sealer.PublicKeyPEM()
	assert.Nil(t, err)

	coord := settlement.NewCoordinator(l, payment.NewSimulated(nil), fixedOracle{},
		settlement.WithPublisher(bus), settlement.WithSealer(sealer))
	l.OnClose(coord.HandleClose)

	criteria := newMemoryCriteria()
	srv := New(l, coord, criteria, bus, Config{
		JWTSecret:    testSecret,
		MaxSockets:   maxSockets,
		PublicKeyPEM: pemKey,
	})
	return &testEnv{server: srv, ledger: l, coordinator: coord, bus: bus, criteria: criteria, sealer: sealer}
}

func token(t *testing.T, p core.Principal) string {
	t.Helper()
	tok, err := IssueToken(testSecret, p, time.Hour)
	assert.Nil(t, err)
	return tok
}

// do sends a request as p (zero principal means anonymous) and decodes the JSON response into out.
func (e *testEnv) do(t *testing.T, p core.Principal, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		assert.Nil(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p.ID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, p))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (e *testEnv) listProperty(t *testing.T, basePrice string) core.Property {
	t.Helper()
	var p core.Property
	code := e.do(t, landlordP, http.MethodPost, "/api/properties", map[string]string{
		"name":       "Loft",
		"address":    "Carrera 7 #12-34",
		"base_price": basePrice,
		"currency":   "USD",
	}, &p)
	assert.Equal(t, http.StatusCreated, code)
	return p
}

func allRatings(rating int) map[string]int {
	out := make(map[string]int)
	for _, c := range core.Criteria {
		out[string(c)] = rating
	}
	return out
}
