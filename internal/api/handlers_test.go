package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/config"
	"github.com/foxzi/mailfleet/internal/fulfillment"
)

func setupTestServer(t *testing.T, cfg *config.APIConfig) *Server {
	t.Helper()

	store, err := fulfillment.NewStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = &config.APIConfig{ListenAddr: ":8080"}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := fulfillment.NewService(store, allocation.NewDistributor(allocation.DefaultPolicy()), logger)

	server, err := NewServer(svc, cfg, "test", logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return server
}

func doRequest(server *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

const ownOrderBody = `{
	"tier": "reseller",
	"source_mode": "own",
	"total_inboxes": 10,
	"personas": [{"first_name": "Jane", "last_name": "Doe"}, {"first_name": "Bob", "last_name": "Ray"}],
	"provided_domains": ["alpha.com", "beta.com"]
}`

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	w := doRequest(server, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want %q", resp.Version, "test")
	}
}

func TestPlanEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	w := doRequest(server, "POST", "/api/v1/plans", ownOrderBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var res allocation.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(res.Allocations) != 10 {
		t.Errorf("Allocations = %d, want 10", len(res.Allocations))
	}
	if res.DomainsNeeded != 4 {
		t.Errorf("DomainsNeeded = %d, want 4", res.DomainsNeeded)
	}
	if !res.ShouldCreateInboxes {
		t.Error("ShouldCreateInboxes = false, want true")
	}
}

func TestPlanEndpointErrors(t *testing.T) {
	server := setupTestServer(t, nil)

	tests := []struct {
		name     string
		body     string
		want     int
		wantCode string
	}{
		{"invalid json", `{invalid}`, http.StatusBadRequest, "invalid_body"},
		{"quantity too small", `{"tier":"edu","source_mode":"own","total_inboxes":5,"personas":[{"first_name":"A"}],"provided_domains":["a.com"]}`, http.StatusBadRequest, "invalid_quantity"},
		{"no personas", `{"tier":"edu","source_mode":"own","total_inboxes":10,"provided_domains":["a.com"]}`, http.StatusBadRequest, "missing_personas"},
		{"no domains", `{"tier":"edu","source_mode":"own","total_inboxes":10,"personas":[{"first_name":"A"}]}`, http.StatusBadRequest, "missing_domains"},
		{"unknown tier", `{"tier":"gold","source_mode":"own","total_inboxes":10,"personas":[{"first_name":"A"}],"provided_domains":["a.com"]}`, http.StatusBadRequest, "unknown_tier"},
		{"zero override", `{"tier":"aws","source_mode":"own","total_inboxes":10,"personas":[{"first_name":"A"}],"provided_domains":["a.com"],"inboxes_per_domain":0}`, http.StatusBadRequest, "invalid_capacity"},
		{"non-latin persona", `{"tier":"edu","source_mode":"own","total_inboxes":10,"personas":[{"first_name":"Иван","last_name":"Петров"}],"provided_domains":["a.com"]}`, http.StatusBadRequest, "invalid_persona"},
		{"invalid domain", `{"tier":"edu","source_mode":"own","total_inboxes":10,"personas":[{"first_name":"A"}],"provided_domains":["not a domain!"]}`, http.StatusBadRequest, "invalid_domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(server, "POST", "/api/v1/plans", tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("Status = %d, want %d. Body: %s", w.Code, tt.want, w.Body.String())
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestQuoteEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	w := doRequest(server, "POST", "/api/v1/quotes", `{"tier":"EDU","total_inboxes":47}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp QuoteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.DomainsNeeded != 16 || resp.Capacity != 3 {
		t.Errorf("quote = %+v, want 16 domains at 3", resp)
	}
	if resp.Tier != allocation.TierEDU {
		t.Errorf("Tier = %q, want edu", resp.Tier)
	}
}

func TestOrderLifecycle(t *testing.T) {
	server := setupTestServer(t, nil)

	w := doRequest(server, "POST", "/api/v1/orders", ownOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var order fulfillment.Order
	if err := json.NewDecoder(w.Body).Decode(&order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.Status != fulfillment.StatusFulfilled {
		t.Errorf("Status = %q, want fulfilled", order.Status)
	}

	w = doRequest(server, "GET", "/api/v1/orders/"+order.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get order Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(server, "GET", "/api/v1/orders/"+order.ID+"/inboxes", "", nil)
	var inboxes InboxesResponse
	if err := json.NewDecoder(w.Body).Decode(&inboxes); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(inboxes.Inboxes) != 10 {
		t.Errorf("Inboxes = %d, want 10", len(inboxes.Inboxes))
	}

	w = doRequest(server, "GET", "/api/v1/orders/"+order.ID+"/domains", "", nil)
	var domains DomainsResponse
	if err := json.NewDecoder(w.Body).Decode(&domains); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(domains.Domains) != 4 {
		t.Errorf("Domains = %d, want 4", len(domains.Domains))
	}

	// Same personas and domains collide with the stored addresses
	w = doRequest(server, "POST", "/api/v1/orders", ownOrderBody, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate order Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = doRequest(server, "GET", "/api/v1/orders", "", nil)
	var list OrdersResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("Count = %d, want 1", list.Count)
	}

	w = doRequest(server, "DELETE", "/api/v1/orders/"+order.ID, "", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete Status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doRequest(server, "GET", "/api/v1/orders/"+order.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted order Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// Addresses are released on delete
	w = doRequest(server, "POST", "/api/v1/orders", ownOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Errorf("re-create Status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestDeferredOrderResume(t *testing.T) {
	server := setupTestServer(t, nil)

	body := `{"tier":"microsoft","source_mode":"deferred","total_inboxes":120,"personas":[{"first_name":"Jane","last_name":"Doe"}]}`
	w := doRequest(server, "POST", "/api/v1/orders", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var order fulfillment.Order
	if err := json.NewDecoder(w.Body).Decode(&order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.Status != fulfillment.StatusAwaitingDomains || order.DomainsNeeded != 3 {
		t.Errorf("order = %s/%d, want awaiting_domains/3", order.Status, order.DomainsNeeded)
	}

	w = doRequest(server, "GET", "/api/v1/orders?status=awaiting_domains&tier=Microsoft", "", nil)
	var list OrdersResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("awaiting Count = %d, want 1", list.Count)
	}

	w = doRequest(server, "POST", "/api/v1/orders/"+order.ID+"/domains", `{"domains":[]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty domains Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doRequest(server, "POST", "/api/v1/orders/"+order.ID+"/domains", `{"domains":["Contoso.com."]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = doRequest(server, "GET", "/api/v1/orders/"+order.ID+"/inboxes", "", nil)
	var inboxes InboxesResponse
	if err := json.NewDecoder(w.Body).Decode(&inboxes); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(inboxes.Inboxes) != 120 {
		t.Fatalf("Inboxes = %d, want 120", len(inboxes.Inboxes))
	}
	for _, in := range inboxes.Inboxes {
		if in.Domain != "contoso.com" {
			t.Fatalf("inbox %s on %s, want contoso.com", in.Email, in.Domain)
		}
	}

	w = doRequest(server, "POST", "/api/v1/orders/"+order.ID+"/domains", `{"domains":["other.com"]}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second resume Status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestListOrdersValidation(t *testing.T) {
	server := setupTestServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/orders?limit=0", http.StatusBadRequest},
		{"/api/v1/orders?limit=abc", http.StatusBadRequest},
		{"/api/v1/orders?offset=-1", http.StatusBadRequest},
		{"/api/v1/orders?tier=gold", http.StatusBadRequest},
		{"/api/v1/orders?limit=5&offset=2", http.StatusOK},
		{"/api/v1/orders/missing/inboxes", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(server, "GET", tt.path, "", nil)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	server := setupTestServer(t, &config.APIConfig{APIKey: "secret-key"})

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no auth", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "Bearer wrong-key", http.StatusUnauthorized},
		{"correct key", "Authorization", "Bearer secret-key", http.StatusOK},
		{"x-api-key header", "X-API-Key", "secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers[tt.header] = tt.value
			}
			w := doRequest(server, "GET", "/api/v1/orders", "", headers)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Health stays open
	w := doRequest(server, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareKeyHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}
	server := setupTestServer(t, &config.APIConfig{APIKeyHash: string(hash)})

	w := doRequest(server, "GET", "/api/v1/stats", "", map[string]string{"Authorization": "Bearer hashed-secret"})
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(server, "GET", "/api/v1/stats", "", map[string]string{"Authorization": "Bearer nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAllowedIPs(t *testing.T) {
	server := setupTestServer(t, &config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}})

	req := httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("denied Status = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("allowed Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewServerInvalidAllowedIPs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewServer(nil, &config.APIConfig{AllowedIPs: []string{"not-an-ip"}}, "test", logger)
	if err == nil {
		t.Error("NewServer() expected error for invalid allowed_ips")
	}
}
