package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/db"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/tenant"
)

const (
	adminPIN  = "11111111"
	workerPIN = "22222222"
	osakaPIN  = "33333333"
	wrongPIN  = "99999999"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	db     *sql.DB
	clock  *fakeClock
	kyoto  *model.Tenant
	osaka  *model.Tenant
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWith(t, nil)
}

// setupTestServerWith lets configure adjust the router dependencies before the
// server starts.
func setupTestServerWith(t *testing.T, configure func(*Deps)) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	kyoto, err := store.CreateTenant(ctx, database, "Kyoto Kimono", "kyoto", "")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	osaka, err := store.CreateTenant(ctx, database, "Osaka Kimono", "osaka", "")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	for _, ident := range []struct {
		tenant *model.Tenant
		code   string
		pin    string
		role   string
	}{
		{kyoto, "A01", adminPIN, model.RoleAdmin},
		{kyoto, "W01", workerPIN, model.RoleWorker},
		{osaka, "B01", osakaPIN, model.RoleAdmin},
	} {
		hash, _ := bcrypt.GenerateFromPassword([]byte(ident.pin), bcrypt.MinCost)
		if _, err := store.CreateIdentity(ctx, database, ident.tenant.ID, ident.code, "Staff "+ident.code, string(hash), ident.role); err != nil {
			t.Fatalf("CreateIdentity: %v", err)
		}
	}

	deps := Deps{
		DB:         database,
		Sessions:   auth.NewSessionIssuer("session-secret", clock.Now),
		Remember:   auth.NewRememberIssuer("remember-secret", clock.Now),
		PINs:       auth.NewPINVerifier(store.Identities{DB: database}, bcrypt.MinCost, clock.Now),
		Resolver:   tenant.Resolver{AllowOverride: true},
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	}
	if configure != nil {
		configure(&deps)
	}
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	t.Cleanup(deps.PINs.Wait)

	return &testEnv{t: t, server: server, db: database, clock: clock, kyoto: kyoto, osaka: osaka}
}

// client is a browser of one tenant with its own cookie jar.
type client struct {
	env    *testEnv
	http   *http.Client
	slug   string
	header http.Header
}

func (e *testEnv) client(slug string) *client {
	jar, _ := cookiejar.New(nil)
	return &client{
		env:  e,
		slug: slug,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		header: http.Header{},
	}
}

func (c *client) do(method, path string, body any) *http.Response {
	c.env.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.env.server.URL+path, reader)
	if err != nil {
		c.env.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.slug != "" {
		req.Header.Set(tenant.DefaultOverrideHeader, c.slug)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.env.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.env.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *client) login(pin string) *http.Response {
	c.env.t.Helper()
	return c.do("POST", "/api/auth/login", map[string]any{"pin": pin})
}

func (c *client) mustLogin(pin string) {
	c.env.t.Helper()
	resp := c.login(pin)
	if resp.StatusCode != http.StatusOK {
		c.env.t.Fatalf("login failed: %d", resp.StatusCode)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.login(adminPIN)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[loginResponse](t, resp)
	if body.Code != "A01" || body.Role != model.RoleAdmin {
		t.Errorf("unexpected identity %+v", body)
	}
	if want := env.clock.Now().Add(auth.SessionLifetime); !body.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, body.ExpiresAt)
	}
	if body.RememberToken != "" {
		t.Error("expected no remember token unless requested")
	}

	cookie := sessionCookie(resp)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/" {
		t.Errorf("unexpected cookie attributes %+v", cookie)
	}

	resp = c.do("GET", "/api/auth/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from me, got %d", resp.StatusCode)
	}
	me := decode[Principal](t, resp)
	if me.TenantSlug != "kyoto" || me.TenantID != env.kyoto.ID || me.Code != "A01" {
		t.Errorf("unexpected principal %+v", me)
	}
}

func TestLoginFailureReportsRemainingAttempts(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.login(wrongPIN)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong pin, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["remaining_attempts"] != float64(4) {
		t.Errorf("expected 4 remaining attempts, got %v", body["remaining_attempts"])
	}

	// A malformed PIN is a failed attempt too.
	resp = c.login("123")
	body = decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body["remaining_attempts"] != float64(3) {
		t.Errorf("expected 401 with 3 remaining, got %d %v", resp.StatusCode, body)
	}

	// Another tenant's PIN does not work here.
	resp = c.login(osakaPIN)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for other tenant's pin, got %d", resp.StatusCode)
	}
}

func TestLoginLockout(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	for i := 1; i < 5; i++ {
		if resp := c.login(wrongPIN); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}

	resp := c.login(wrongPIN)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on fifth failure, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "300" {
		t.Errorf("expected Retry-After 300, got %q", got)
	}

	// The correct PIN is refused while locked.
	resp = c.login(adminPIN)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for correct pin while locked, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["retry_after_seconds"] != float64(300) {
		t.Errorf("expected retry_after_seconds 300, got %v", body["retry_after_seconds"])
	}

	env.clock.Advance(5 * time.Minute)
	if resp := c.login(adminPIN); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after lock expiry, got %d", resp.StatusCode)
	}
}

// countingIdentities counts PIN verifications that reach storage and holds
// each one long enough for concurrent attempts to overlap.
type countingIdentities struct {
	store.Identities
	calls atomic.Int32
}

func (c *countingIdentities) ListActiveIdentities(ctx context.Context, tenantID string) ([]model.Identity, error) {
	c.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return c.Identities.ListActiveIdentities(ctx, tenantID)
}

func TestConcurrentLoginsCannotExceedThreshold(t *testing.T) {
	var src *countingIdentities
	env := setupTestServerWith(t, func(d *Deps) {
		src = &countingIdentities{Identities: store.Identities{DB: d.DB}}
		d.PINs = auth.NewPINVerifier(src, bcrypt.MinCost, d.Now)
	})

	const attempts = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// client.do calls t.Fatalf, which belongs on the test goroutine.
			data, _ := json.Marshal(map[string]string{"pin": wrongPIN})
			req, _ := http.NewRequest("POST", env.server.URL+"/api/auth/login", bytes.NewReader(data))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(tenant.DefaultOverrideHeader, "kyoto")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("login: %v", err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if got := src.calls.Load(); got != 5 {
		t.Errorf("expected 5 PIN verifications for %d concurrent attempts, got %d", attempts, got)
	}
	if codes[http.StatusUnauthorized] != 4 {
		t.Errorf("expected 4 attempts answered 401, got %d (%v)", codes[http.StatusUnauthorized], codes)
	}
	if codes[http.StatusTooManyRequests] != attempts-4 {
		t.Errorf("expected %d attempts answered 429, got %d (%v)", attempts-4, codes[http.StatusTooManyRequests], codes)
	}

	// The origin is locked: the correct PIN is refused without verification.
	if resp := env.client("kyoto").login(adminPIN); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 for correct pin after concurrent failures, got %d", resp.StatusCode)
	}
	if got := src.calls.Load(); got != 5 {
		t.Errorf("expected no verification while locked, got %d in total", got)
	}
}

func TestRememberFailuresCountAgainstOrigin(t *testing.T) {
	env := setupTestServer(t)

	for i := 1; i < 5; i++ {
		resp := env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": "forged.token"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	if resp := env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": "forged.token"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on fifth forged token, got %d", resp.StatusCode)
	}

	// The origin is now locked for PIN logins too.
	resp := env.client("kyoto").login(adminPIN)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after forged remember tokens, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "300" {
		t.Errorf("expected Retry-After 300, got %q", got)
	}
}

func TestForgedRememberHeaderCountsAgainstOrigin(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.header.Set(RememberHeader, "forged.token")

	for i := 0; i < 5; i++ {
		if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	if resp := env.client("kyoto").login(adminPIN); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 after forged remember headers, got %d", resp.StatusCode)
	}
}

func TestLoginTenantSlugMustMatchHost(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.do("POST", "/api/auth/login", map[string]any{"pin": osakaPIN, "tenant_slug": "osaka"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnresolvedTenant(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("")

	resp := c.login(adminPIN)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without a tenant, got %d", resp.StatusCode)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.do("GET", "/api/items", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error, got %q", ct)
	}

	resp = c.do("GET", "/items", nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303 for page request, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != LoginPath {
		t.Errorf("expected redirect to %s, got %q", LoginPath, loc)
	}

	// A forged cookie is not a session.
	c.header.Set("Cookie", SessionCookie+"=not-a-token")
	if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for forged cookie, got %d", resp.StatusCode)
	}
}

func TestSessionRejectedOnOtherTenant(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(adminPIN)

	c.slug = "osaka"
	if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for session presented on another tenant, got %d", resp.StatusCode)
	}
}

func TestSessionExpiry(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(workerPIN)

	env.clock.Advance(auth.SessionLifetime - time.Second)
	if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before expiry, got %d", resp.StatusCode)
	}

	env.clock.Advance(time.Second)
	resp := c.do("GET", "/api/items", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 at expiry, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] != "session expired" {
		t.Errorf("expected session expired, got %q", body["error"])
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(workerPIN)

	resp := c.do("POST", "/api/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", resp.StatusCode)
	}
	if cleared := sessionCookie(resp); cleared == nil || cleared.MaxAge >= 0 {
		t.Errorf("expected session cookie to be cleared, got %+v", cleared)
	}
	if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}

	// Logging out without a session is harmless.
	if resp := env.client("kyoto").do("POST", "/api/auth/logout", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from anonymous logout, got %d", resp.StatusCode)
	}
}

func TestSuspendedTenantRejected(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(adminPIN)

	if err := store.SetTenantStatus(context.Background(), env.db, env.kyoto.ID, model.TenantStatusSuspended); err != nil {
		t.Fatalf("SetTenantStatus: %v", err)
	}

	if resp := c.do("GET", "/api/items", nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for suspended tenant, got %d", resp.StatusCode)
	}
	if resp := env.client("kyoto").login(adminPIN); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for login on suspended tenant, got %d", resp.StatusCode)
	}
}

func createItem(t *testing.T, c *client, ticket string) model.Item {
	t.Helper()
	resp := c.do("POST", "/api/items", map[string]string{
		"ticket":        ticket,
		"customer_name": "Tanaka",
		"description":   "furisode",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return decode[model.Item](t, resp)
}

func itemPath(id int64, suffix string) string {
	return "/api/items/" + strconv.FormatInt(id, 10) + suffix
}

func TestItemsAPIFlow(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(workerPIN)

	item := createItem(t, c, "T-0001")
	if item.Status != model.StatusDraft {
		t.Errorf("expected draft, got %q", item.Status)
	}

	if resp := c.do("POST", "/api/items", map[string]string{"ticket": "T-0001", "customer_name": "Sato"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate ticket, got %d", resp.StatusCode)
	}

	ship := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	resp := c.do("PUT", itemPath(item.ID, ""), map[string]any{
		"customer_name":       "Tanaka Hanako",
		"scheduled_ship_date": ship,
		"is_paid_storage":     true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from update, got %d", resp.StatusCode)
	}
	updated := decode[model.Item](t, resp)
	if updated.CustomerName != "Tanaka Hanako" || updated.ScheduledShipDate == nil || !updated.ScheduledShipDate.Equal(ship) || !updated.IsPaidStorage {
		t.Errorf("unexpected item after update %+v", updated)
	}

	for _, status := range []model.ItemStatus{model.StatusPendingShip, model.StatusProcessing} {
		resp := c.do("POST", itemPath(item.ID, "/status"), map[string]string{"status": string(status)})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: expected 200, got %d", status, resp.StatusCode)
		}
		item = decode[model.Item](t, resp)
	}
	if item.Status != model.StatusProcessing {
		t.Errorf("expected processing, got %q", item.Status)
	}
	if item.ShipToVendorDate == nil || !item.ShipToVendorDate.Equal(env.clock.Now()) {
		t.Errorf("expected ship_to_vendor_date stamped, got %v", item.ShipToVendorDate)
	}

	resp = c.do("GET", "/api/items?status=processing", nil)
	if items := decode[[]model.Item](t, resp); len(items) != 1 {
		t.Errorf("expected 1 processing item, got %d", len(items))
	}
	if resp := c.do("GET", "/api/items?status=bogus", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status filter, got %d", resp.StatusCode)
	}

	resp = c.do("GET", itemPath(item.ID, "/history"), nil)
	history := decode[[]model.History](t, resp)
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].ActorCode != "W01" {
		t.Errorf("expected actor W01, got %q", history[0].ActorCode)
	}
}

func TestIllegalTransition(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(workerPIN)
	item := createItem(t, c, "T-0002")

	resp := c.do("POST", itemPath(item.ID, "/status"), map[string]string{"status": "completed"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["from"] != "draft" || body["to"] != "completed" {
		t.Errorf("expected from/to in error, got %v", body)
	}

	if resp := c.do("POST", itemPath(item.ID, "/status"), map[string]string{"status": "lost"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestCrossTenantItemNotFound(t *testing.T) {
	env := setupTestServer(t)
	kyoto := env.client("kyoto")
	kyoto.mustLogin(adminPIN)
	item := createItem(t, kyoto, "T-0003")

	osaka := env.client("osaka")
	osaka.mustLogin(osakaPIN)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{"GET", itemPath(item.ID, ""), nil},
		{"PUT", itemPath(item.ID, ""), map[string]string{"customer_name": "x"}},
		{"POST", itemPath(item.ID, "/status"), map[string]string{"status": "pending_ship"}},
		{"POST", itemPath(item.ID, "/override"), map[string]string{"status": "completed", "reason": "x"}},
		{"GET", itemPath(item.ID, "/history"), nil},
	} {
		if resp := osaka.do(tc.method, tc.path, tc.body); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	resp := osaka.do("GET", "/api/items", nil)
	if items := decode[[]model.Item](t, resp); len(items) != 0 {
		t.Errorf("expected no items visible to osaka, got %d", len(items))
	}
}

func TestRoleBasedAccess(t *testing.T) {
	env := setupTestServer(t)
	admin := env.client("kyoto")
	admin.mustLogin(adminPIN)
	worker := env.client("kyoto")
	worker.mustLogin(workerPIN)
	item := createItem(t, worker, "T-0004")

	override := map[string]string{"status": "completed", "reason": "customer collected in person"}
	if resp := worker.do("POST", itemPath(item.ID, "/override"), override); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for worker override, got %d", resp.StatusCode)
	}
	if resp := worker.do("GET", "/api/identities", nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for worker listing identities, got %d", resp.StatusCode)
	}

	if resp := admin.do("POST", itemPath(item.ID, "/override"), map[string]string{"status": "completed"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for override without reason, got %d", resp.StatusCode)
	}
	resp := admin.do("POST", itemPath(item.ID, "/override"), override)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin override, got %d", resp.StatusCode)
	}
	if got := decode[model.Item](t, resp); got.Status != model.StatusCompleted || got.ReturnToCustomerDate == nil {
		t.Errorf("unexpected item after override %+v", got)
	}

	history := decode[[]model.History](t, admin.do("GET", itemPath(item.ID, "/history"), nil))
	if len(history) != 1 || !history[0].Override || history[0].Note != override["reason"] {
		t.Errorf("expected audited override in history, got %+v", history)
	}
}

func TestRememberRedemption(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.do("POST", "/api/auth/login", map[string]any{"pin": workerPIN, "remember": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}
	token := decode[loginResponse](t, resp).RememberToken
	if token == "" {
		t.Fatal("expected remember token")
	}

	env.clock.Advance(10 * 24 * time.Hour)

	var sessions []string
	for i := 0; i < 2; i++ {
		resp := env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": token})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("redemption %d: expected 200, got %d", i, resp.StatusCode)
		}
		cookie := sessionCookie(resp)
		if cookie == nil {
			t.Fatalf("redemption %d: expected session cookie", i)
		}
		sessions = append(sessions, cookie.Value)
	}
	if sessions[0] == sessions[1] {
		t.Error("expected each redemption to mint a distinct session")
	}

	// The remember token is not a session.
	forged := env.client("kyoto")
	forged.header.Set("Cookie", SessionCookie+"="+token)
	if resp := forged.do("GET", "/api/items", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for remember token used as session, got %d", resp.StatusCode)
	}

	// Presented on another tenant.
	if resp := env.client("osaka").do("POST", "/api/auth/remember", map[string]string{"token": token}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 on other tenant, got %d", resp.StatusCode)
	}

	// Tampered.
	tampered := strings.Replace(token, ".", ".x", 1)
	if resp := env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": tampered}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for tampered token, got %d", resp.StatusCode)
	}

	env.clock.Advance(21 * 24 * time.Hour)
	resp = env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after 30 days, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["error"] != "remember token expired" {
		t.Errorf("unexpected error %q", body["error"])
	}
}

func TestRememberHeaderRestoresSession(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	resp := c.do("POST", "/api/auth/login", map[string]any{"pin": workerPIN, "remember": true})
	token := decode[loginResponse](t, resp).RememberToken

	env.clock.Advance(auth.SessionLifetime)
	c.header.Set(RememberHeader, token)
	resp = c.do("GET", "/api/items", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with remember header, got %d", resp.StatusCode)
	}
	if sessionCookie(resp) == nil {
		t.Error("expected a fresh session cookie")
	}
}

func TestRememberDeactivatedIdentity(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	resp := c.do("POST", "/api/auth/login", map[string]any{"pin": workerPIN, "remember": true})
	token := decode[loginResponse](t, resp).RememberToken

	ctx := context.Background()
	worker, _ := store.GetIdentityByCode(ctx, env.db, env.kyoto.ID, "W01")
	if err := store.UpdateIdentity(ctx, env.db, env.kyoto.ID, worker.ID, worker.Name, worker.Role, false); err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}

	resp = env.client("kyoto").do("POST", "/api/auth/remember", map[string]string{"token": token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for deactivated identity, got %d", resp.StatusCode)
	}
}

func TestIdentityManagement(t *testing.T) {
	env := setupTestServer(t)
	admin := env.client("kyoto")
	admin.mustLogin(adminPIN)

	resp := admin.do("POST", "/api/identities", map[string]string{"code": "W02", "name": "Ito", "role": model.RoleWorker})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	pin, _ := created["pin"].(string)
	if model.ValidatePIN(pin) != nil {
		t.Fatalf("expected generated 8-digit pin, got %q", pin)
	}
	if _, ok := created["pin_hash"]; ok {
		t.Error("pin hash must not be exposed")
	}

	if resp := env.client("kyoto").login(pin); resp.StatusCode != http.StatusOK {
		t.Errorf("expected new identity to log in, got %d", resp.StatusCode)
	}

	if resp := admin.do("POST", "/api/identities", map[string]string{"code": "W03", "name": "Kato", "role": model.RoleWorker, "pin": workerPIN}); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for pin in use, got %d", resp.StatusCode)
	}
	if resp := admin.do("POST", "/api/identities", map[string]string{"code": "W02", "name": "Dup", "role": model.RoleWorker}); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate code, got %d", resp.StatusCode)
	}
	if resp := admin.do("POST", "/api/identities", map[string]string{"code": "W04", "name": "Mori", "role": "owner"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid role, got %d", resp.StatusCode)
	}
	if resp := admin.do("POST", "/api/identities", map[string]string{"code": "W05", "name": "Abe", "role": model.RoleWorker, "pin": "1234"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for short pin, got %d", resp.StatusCode)
	}

	list := decode[[]model.Identity](t, admin.do("GET", "/api/identities", nil))
	if len(list) != 3 {
		t.Errorf("expected 3 identities in kyoto, got %d", len(list))
	}

	var self model.Identity
	for _, ident := range list {
		if ident.Code == "A01" {
			self = ident
		}
	}
	if resp := admin.do("PUT", "/api/identities/"+strconv.FormatInt(self.ID, 10), map[string]any{"active": false}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for self deactivation, got %d", resp.StatusCode)
	}

	id := int64(created["id"].(float64))
	resp = admin.do("PUT", "/api/identities/"+strconv.FormatInt(id, 10)+"/pin", map[string]string{"pin": "44444444"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for pin reset, got %d", resp.StatusCode)
	}
	if resp := env.client("kyoto").login("44444444"); resp.StatusCode != http.StatusOK {
		t.Errorf("expected login with reset pin, got %d", resp.StatusCode)
	}
}

func TestTenantLookup(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")

	resp := c.do("GET", "/api/tenants/osaka", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["name"] != "Osaka Kimono" || body["status"] != model.TenantStatusActive {
		t.Errorf("unexpected tenant %v", body)
	}
	if _, ok := body["id"]; ok {
		t.Error("tenant id must not be exposed publicly")
	}

	if resp := c.do("GET", "/api/tenants/nagoya", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tenant, got %d", resp.StatusCode)
	}
}

func TestWorkflowTable(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("kyoto")
	c.mustLogin(workerPIN)

	table := decode[map[string][]string](t, c.do("GET", "/api/workflow", nil))
	if len(table) != len(model.ItemStatuses) {
		t.Errorf("expected %d statuses, got %d", len(model.ItemStatuses), len(table))
	}
	if got := table["completed"]; got == nil || len(got) != 0 {
		t.Errorf("expected empty list for terminal status, got %v", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)
	c := env.client("")

	if resp := c.do("GET", "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	env.client("kyoto").login(wrongPIN)
	resp := c.do("GET", "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `tansu_login_attempts_total{outcome="invalid"} 1`) {
		t.Error("expected failed login to be counted")
	}
}

func TestLoginPage(t *testing.T) {
	env := setupTestServer(t)

	resp := env.client("kyoto").do("GET", LoginPath, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for login page, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "Kyoto Kimono") {
		t.Error("expected login page to name the tenant")
	}

	if resp := env.client("nagoya").do("GET", LoginPath, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tenant, got %d", resp.StatusCode)
	}
}
