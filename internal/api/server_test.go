package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"speakadora-bot/internal/models"
	"speakadora-bot/internal/referral"
	"speakadora-bot/internal/storage"
	"speakadora-bot/internal/storage/storagetest"
	"speakadora-bot/internal/utils"
)

type testEnv struct {
	db      *gorm.DB
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 1000
		cfg.RateLimitBurst = 1000
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	db := storagetest.NewDB(t)
	store := storage.NewStore(db)
	svc := referral.NewService(store, log, 10, 5)

	return &testEnv{
		db:      db,
		handler: NewServer(cfg, store, svc, log).Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateUser_Idempotent(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/api/users", `{"telegram_id":"100","username":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1,"telegram_id":"100","username":"Alice","level":1,"account_status":"FREE"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/users", `{"telegram_id":"100","username":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["id"])

	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.User{}))
	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.Stats{}))
}

func TestCreateUser_NumericTelegramID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/api/users", `{"telegram_id":123456789}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "123456789", body["telegram_id"])
	assert.Nil(t, body["username"])
}

func TestCreateUser_NonIntegerNumericID(t *testing.T) {
	env := newTestEnv(t, Config{})

	cases := []struct{ path, body string }{
		{"/api/users", `{"telegram_id":1e3}`},
		{"/api/users", `{"telegram_id":1.5}`},
		{"/api/referral", `{"referrer_id":1.0,"referee_id":2}`},
	}
	for _, c := range cases {
		rec := env.do(t, http.MethodPost, c.path, c.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", c.body)
	}
	assert.Equal(t, int64(0), storagetest.CountRows(t, env.db, &models.User{}))
}

func TestCreateUser_MissingID(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, body := range []string{`{}`, `{"telegram_id":""}`, ``} {
		rec := env.do(t, http.MethodPost, "/api/users", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}

	rec := env.do(t, http.MethodPost, "/api/users", `{"telegram_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(0), storagetest.CountRows(t, env.db, &models.User{}))
}

func TestGetStats_CreatesUserOnFirstContact(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/api/stats?telegram_id=555", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"talk_time": {"today": 0, "weekly": 0, "total": 0},
		"listened_time": 0,
		"days_engaged": 0,
		"invited_friends": 0,
		"referrals_to_premium": 10,
		"level": 1,
		"account_status": "FREE"
	}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/stats?telegram_id=555", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.User{}))
	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.Stats{}))
}

func TestGetStats_MissingID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "telegram_id is required", decode(t, rec)["error"])
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/api/profile?telegram_id=42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"Student","avatar":"/static/image/student_avatar.png"}`, rec.Body.String())
	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.User{}))
	assert.Equal(t, int64(1), storagetest.CountRows(t, env.db, &models.Stats{}))

	env.do(t, http.MethodPost, "/api/users", `{"telegram_id":"43","username":"bob"}`)
	rec = env.do(t, http.MethodGet, "/api/profile?telegram_id=43", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode(t, rec)["name"])

	rec = env.do(t, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackReferral_UnknownReferrer(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"1","referee_id":"200"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Referrer not found", decode(t, rec)["error"])
	assert.Equal(t, int64(0), storagetest.CountRows(t, env.db, &models.User{}))
}

func TestTrackReferral_MissingFields(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Both referrer_id and referee_id are required", decode(t, rec)["error"])
}

func TestTrackReferral_ExistingReferee(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.do(t, http.MethodPost, "/api/users", `{"telegram_id":"200"}`)

	rec := env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"unknown","referee_id":"200"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "User already registered", body["error"])
	assert.Equal(t, float64(0), body["referral_count"])
}

func TestTrackReferral_PremiumAfterTenQualified(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.do(t, http.MethodPost, "/api/users", `{"telegram_id":"1"}`)

	for i := 0; i < 10; i++ {
		referee := fmt.Sprintf("%d", 100+i)
		rec := env.do(t, http.MethodPost, "/api/referral", map[string]string{
			"referrer_id": "1",
			"referee_id":  referee,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["premium_earned"])
		storagetest.SetLevel(t, env.db, referee, 5)
	}

	rec := env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"1","referee_id":"500"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"referral_count":10,"premium_earned":true,"account_status":"PREMIUM"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"1","referee_id":"501"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["premium_earned"])

	rec = env.do(t, http.MethodGet, "/api/stats?telegram_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(10), body["invited_friends"])
	assert.Equal(t, "PREMIUM", body["account_status"])
	assert.Equal(t, float64(0), body["referrals_to_premium"])

	rec = env.do(t, http.MethodPost, "/api/referral", `{"referrer_id":"1","referee_id":"100"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already registered through another referral", decode(t, rec)["error"])
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := httptest.NewRequest(http.MethodOptions, "/api/referral", nil)
	req.Header.Set("Origin", "https://web.telegram.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://web.telegram.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, int64(0), storagetest.CountRows(t, env.db, &models.User{}))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitRPS: 1, RateLimitBurst: 1})

	rec := env.do(t, http.MethodGet, "/api/profile?telegram_id=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/profile?telegram_id=1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_InternalCallerBurstNotThrottled(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitRPS: 20, RateLimitBurst: 40, InternalToken: "bot-token"})

	for i := 0; i < 60; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(fmt.Sprintf(`{"telegram_id":"%d"}`, 1000+i)))
		req.Header.Set(InternalTokenHeader, "bot-token")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, "request %d", i)
	}
	assert.Equal(t, int64(60), storagetest.CountRows(t, env.db, &models.User{}))

	// A wrong token is treated like any other client.
	limited := 0
	for i := 0; i < 60; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/profile?telegram_id=1000", nil)
		req.Header.Set(InternalTokenHeader, "guess")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Positive(t, limited)
}

func TestRateLimit_ForwardedClientsFromTrustedProxy(t *testing.T) {
	proxies, err := utils.ParseCIDRs([]string{"127.0.0.0/8"})
	require.NoError(t, err)
	env := newTestEnv(t, Config{RateLimitRPS: 1, RateLimitBurst: 1, TrustedProxies: proxies})

	get := func(remote, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/profile?telegram_id=1", nil)
		req.RemoteAddr = remote
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Distinct users behind the proxy get their own buckets.
	assert.Equal(t, http.StatusOK, get("127.0.0.1:5000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, get("127.0.0.1:5000", "203.0.113.2, 127.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("127.0.0.1:5000", "203.0.113.1"))

	// Untrusted peers cannot pick their bucket.
	assert.Equal(t, http.StatusOK, get("198.51.100.7:5000", "203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, get("198.51.100.7:5000", "203.0.113.10"))
}

func TestMetrics_AllowListBehindProxy(t *testing.T) {
	blocks, err := utils.ParseCIDRs([]string{"127.0.0.0/8", "10.0.0.0/8"})
	require.NoError(t, err)
	proxies, err := utils.ParseCIDRs([]string{"127.0.0.0/8"})
	require.NoError(t, err)
	env := newTestEnv(t, Config{MetricsAllowed: blocks, TrustedProxies: proxies})

	scrape := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "127.0.0.1:6000"
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, scrape("203.0.113.5"))
	assert.Equal(t, http.StatusOK, scrape("10.1.2.3"))
	assert.Equal(t, http.StatusOK, scrape(""))
}

func TestMetrics_AllowList(t *testing.T) {
	blocks, err := utils.ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	env := newTestEnv(t, Config{MetricsAllowed: blocks})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "10.0.0.5:4000"
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "speakadora_http_requests_total")
}

func TestStaticIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>stats</h1>"), 0o644))

	env := newTestEnv(t, Config{StaticDir: dir})

	for _, target := range []string{"/", "/static/index.html"} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "<h1>stats</h1>", target)
	}
}
