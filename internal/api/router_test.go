package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/theravoice/theravoice/internal/auth"
	"github.com/theravoice/theravoice/internal/chat"
	"github.com/theravoice/theravoice/internal/civiltime"
	apperrors "github.com/theravoice/theravoice/internal/errors"
	"github.com/theravoice/theravoice/internal/history"
	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/mail"
	"github.com/theravoice/theravoice/internal/mail/mailtest"
	"github.com/theravoice/theravoice/internal/metrics"
	"github.com/theravoice/theravoice/internal/reminder"
	"github.com/theravoice/theravoice/internal/scheduler"
)

// testNow is the normalizer's clock: well before the 2030 appointments used below
var testNow = time.Date(2029, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	deps    *Deps
	mailer  *mailtest.Sender
	rec     *logger.Recorder
	reg     *prometheus.Registry
}

type serverOption func(*Deps)

func withHistory(b history.Backend) serverOption {
	return func(d *Deps) { d.History = b }
}

func withChat(r chat.Responder) serverOption {
	return func(d *Deps) { d.Chat = r }
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, string) (string, error) {
	return "", errors.New("provider unavailable")
}

func withRateLimit(rps float64, burst int) serverOption {
	return func(d *Deps) {
		d.RateLimiter = NewRateLimiter(RateLimitConfig{RPS: rps, Burst: burst}, d.Logger)
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	rec := logger.NewRecorder()
	mailer := mailtest.NewSender()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	normalizer, err := civiltime.NewNormalizer(civiltime.DefaultZone)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	normalizer = normalizer.WithClock(func() time.Time { return testNow })

	tokens, err := auth.NewTokenService("test-secret", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	action := reminder.NewAction(mailer, rec)
	registry := scheduler.NewRegistry()
	registry.MustRegister(job.KindAppointmentReminder, action.Handle)

	deps := &Deps{
		Normalizer:         normalizer,
		Reminders:          action,
		Mailer:             mailer,
		Tokens:             tokens,
		Chat:               chat.NewCannedResponder(),
		Metrics:            collector,
		Gatherer:           reg,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		Logger:             rec,
	}
	for _, opt := range opts {
		opt(deps)
	}

	observers := []scheduler.Observer{collector}
	if deps.History != nil {
		observers = append(observers, history.NewObserver(deps.History, rec))
	}
	deps.Scheduler = scheduler.New(registry, scheduler.Options{
		PollInterval: 20 * time.Millisecond,
		Logger:       rec,
		Observers:    observers,
	})
	t.Cleanup(deps.Scheduler.Stop)
	if deps.RateLimiter != nil {
		t.Cleanup(deps.RateLimiter.Stop)
	}

	return &testServer{
		handler: NewRouter(deps),
		deps:    deps,
		mailer:  mailer,
		rec:     rec,
		reg:     reg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestScheduleAppointment_Success(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{
		Email:           "a@b.com",
		AppointmentTime: "2030-01-01T20:00:00Z",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[AppointmentResponse](t, rec)
	if resp.AppointmentTimePT != "2030-01-01T12:00:00-08:00" {
		t.Errorf("appointment_time_pt = %s", resp.AppointmentTimePT)
	}
	if resp.AppointmentTimeUTC != "2030-01-01T20:00:00+00:00" {
		t.Errorf("appointment_time_utc = %s", resp.AppointmentTimeUTC)
	}
	if resp.JobID == "" || resp.Message == "" {
		t.Errorf("Expected job id and message, got %+v", resp)
	}

	if s.deps.Scheduler.Pending() != 1 {
		t.Errorf("Expected 1 pending job, got %d", s.deps.Scheduler.Pending())
	}
	j, ok := s.deps.Scheduler.Get(resp.JobID)
	if !ok {
		t.Fatal("Scheduled job not found")
	}
	p, err := j.Reminder()
	if err != nil || p.Email != "a@b.com" {
		t.Errorf("Unexpected payload %+v, err %v", p, err)
	}
	if !j.FireAt.Equal(time.Date(2030, 1, 1, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("FireAt = %v", j.FireAt)
	}

	msgs := s.mailer.Messages()
	if len(msgs) != 1 || msgs[0].Subject != reminder.ConfirmationSubject || msgs[0].To != "a@b.com" {
		t.Errorf("Expected one confirmation email, got %+v", msgs)
	}
}

func TestScheduleAppointment_SummerTime(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{
		Email:           "a@b.com",
		AppointmentTime: "2030-07-01T09:30:00-04:00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AppointmentResponse](t, rec)
	if resp.AppointmentTimePT != "2030-07-01T06:30:00-07:00" {
		t.Errorf("appointment_time_pt = %s", resp.AppointmentTimePT)
	}
	if resp.AppointmentTimeUTC != "2030-07-01T13:30:00+00:00" {
		t.Errorf("appointment_time_utc = %s", resp.AppointmentTimeUTC)
	}
}

func TestScheduleAppointment_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"past", AppointmentRequest{Email: "a@b.com", AppointmentTime: "2020-01-01T20:00:00Z"}},
		{"exactly now", AppointmentRequest{Email: "a@b.com", AppointmentTime: testNow.Format(time.RFC3339)}},
		{"naive timestamp", AppointmentRequest{Email: "a@b.com", AppointmentTime: "2030-01-01T20:00:00"}},
		{"garbage timestamp", AppointmentRequest{Email: "a@b.com", AppointmentTime: "next tuesday"}},
		{"missing timestamp", AppointmentRequest{Email: "a@b.com"}},
		{"bad email", AppointmentRequest{Email: "not-an-email", AppointmentTime: "2030-01-01T20:00:00Z"}},
		{"malformed json", `{"email":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, "/schedule-appointment", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if body := decode[errorResponse](t, rec); body.Detail == "" {
				t.Error("Expected detail in error body")
			}
			if s.deps.Scheduler.Pending() != 0 {
				t.Errorf("No job should be registered, got %d", s.deps.Scheduler.Pending())
			}
			if len(s.mailer.Messages()) != 0 {
				t.Error("No email should be sent")
			}
		})
	}
}

func TestScheduleAppointment_ConfirmationFailure(t *testing.T) {
	s := newTestServer(t)
	s.mailer.Fail(apperrors.NewCollaboratorError(mail.Collaborator, errors.New("connection refused")))

	rec := s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{
		Email:           "a@b.com",
		AppointmentTime: "2030-01-01T20:00:00Z",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); !strings.Contains(body.Detail, "connection refused") {
		t.Errorf("Expected failure detail, got %q", body.Detail)
	}
	if s.deps.Scheduler.Pending() != 0 {
		t.Errorf("No job should be retained, got %d", s.deps.Scheduler.Pending())
	}
}

func TestAppointment_GetAndCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{
		Email:           "a@b.com",
		AppointmentTime: "2030-01-01T20:00:00Z",
	})
	id := decode[AppointmentResponse](t, rec).JobID

	rec = s.do(t, http.MethodGet, "/appointments/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	view := decode[AppointmentView](t, rec)
	if view.Status != job.StatusPending || view.Email != "a@b.com" || view.AppointmentTimePT != "2030-01-01T12:00:00-08:00" {
		t.Errorf("Unexpected view: %+v", view)
	}

	rec = s.do(t, http.MethodDelete, "/appointments/"+id, nil)
	if got := decode[map[string]bool](t, rec); rec.Code != http.StatusOK || !got["cancelled"] {
		t.Errorf("Expected cancelled=true, got %d %v", rec.Code, got)
	}

	rec = s.do(t, http.MethodDelete, "/appointments/"+id, nil)
	if got := decode[map[string]bool](t, rec); got["cancelled"] {
		t.Error("Second cancel should report false")
	}

	rec = s.do(t, http.MethodGet, "/appointments/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after cancel, got %d", rec.Code)
	}
	if s.deps.Scheduler.Pending() != 0 {
		t.Errorf("Expected no pending jobs, got %d", s.deps.Scheduler.Pending())
	}
}

func TestAppointment_HistoryAfterFiring(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	backend := history.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, time.Hour)
	t.Cleanup(func() { backend.Close() })

	s := newTestServer(t, withHistory(backend))
	if err := s.deps.Scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j, err := job.NewReminderJob("a@b.com", time.Now())
	if err != nil {
		t.Fatalf("NewReminderJob: %v", err)
	}
	id, err := s.deps.Scheduler.Schedule(context.Background(), j)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case msg := <-s.mailer.Sent:
		if msg.Subject != reminder.ReminderSubject {
			t.Fatalf("Expected reminder email, got %q", msg.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reminder was not sent")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := s.do(t, http.MethodGet, "/appointments/"+id, nil)
		if rec.Code == http.StatusOK {
			view := decode[AppointmentView](t, rec)
			if view.Status != job.StatusRemoved || view.Outcome != string(job.OutcomeCompleted) || view.Email != "a@b.com" {
				t.Errorf("Unexpected view: %+v", view)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("History record never appeared, last status %d", rec.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppointment_UnknownID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/appointments/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Detail != "Appointment not found" {
		t.Errorf("Unexpected detail %q", body.Detail)
	}

	rec = s.do(t, http.MethodDelete, "/appointments/does-not-exist", nil)
	if got := decode[map[string]bool](t, rec); rec.Code != http.StatusOK || got["cancelled"] {
		t.Errorf("Expected cancelled=false, got %d %v", rec.Code, got)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{Email: "a@b.com", AppointmentTime: "2030-01-01T20:00:00Z"})

	rec := s.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decode[HealthResponse](t, rec); got.Status != "healthy" || got.PendingJobs != 1 {
		t.Errorf("Unexpected health: %+v", got)
	}
}

func TestResources(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/resources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decode[map[string]json.RawMessage](t, rec)
	for _, key := range []string{"emergency_contacts", "mental_health_resources", "support_groups", "wellness_tips"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Missing section %s", key)
		}
	}
	if !strings.Contains(rec.Body.String(), `"988"`) {
		t.Error("Expected the 988 lifeline")
	}
}

func TestLoginAndChat(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	token := decode[auth.Token](t, rec)
	if token.TokenType != "bearer" {
		t.Errorf("Unexpected token type %q", token.TokenType)
	}

	rec = s.do(t, http.MethodPost, "/api/chat", ChatMessage{Text: "I feel anxious", IsUser: true},
		"Authorization", "Bearer "+token.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	reply := decode[ChatMessage](t, rec)
	if reply.IsUser || reply.Text == "" {
		t.Errorf("Unexpected reply: %+v", reply)
	}

	rec = s.do(t, http.MethodPost, "/api/chat", ChatMessage{Text: "   ", IsUser: true},
		"Authorization", "Bearer "+token.AccessToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty text, got %d", rec.Code)
	}
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/analyze", AnalyzeRequest{Text: "I can't sleep before my sessions"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[AnalyzeResponse](t, rec); !slices.Contains(chat.CannedReplies, body.Response) {
		t.Errorf("Unexpected response %q", body.Response)
	}

	rec = s.do(t, http.MethodPost, "/analyze", AnalyzeRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing text, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Detail != "Text is required" {
		t.Errorf("Unexpected detail %q", body.Detail)
	}
}

func TestAnalyze_ResponderFailure(t *testing.T) {
	s := newTestServer(t, withChat(failingResponder{}))

	rec := s.do(t, http.MethodPost, "/analyze", AnalyzeRequest{Text: "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if len(s.rec.Find(logger.LevelError, "Error analyzing text")) != 1 {
		t.Error("Expected the failure to be logged")
	}
}

func TestChat_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/chat", ChatMessage{Text: "hi", IsUser: true})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Detail != auth.UnauthorizedDetail {
		t.Errorf("Unexpected detail %q", body.Detail)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []interface{}{
		LoginRequest{Username: "alice"},
		LoginRequest{Password: "pw"},
		`not json`,
	} {
		rec := s.do(t, http.MethodPost, "/api/auth/login", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 for %v, got %d", body, rec.Code)
		}
	}
}

func TestSendEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/send-email", EmailRequest{To: "a@b.com", Subject: "Hello", Body: "<p>Hi</p>"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.mailer.Messages()) != 1 {
		t.Error("Expected one email")
	}

	rec = s.do(t, http.MethodPost, "/send-email", EmailRequest{To: "nope", Subject: "Hello"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid address, got %d", rec.Code)
	}

	s.mailer.Fail(apperrors.NewCollaboratorError(mail.Collaborator, errors.New("relay down")))
	rec = s.do(t, http.MethodPost, "/send-email", EmailRequest{To: "a@b.com", Subject: "Hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for relay failure, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, withRateLimit(0.5, 2))

	for i := 0; i < 2; i++ {
		if rec := s.do(t, http.MethodGet, "/api/resources", nil); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/resources", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	if rec := s.do(t, http.MethodGet, "/api/health", nil); rec.Code != http.StatusOK {
		t.Errorf("Health should not be rate limited, got %d", rec.Code)
	}
	if n := s.deps.RateLimiter.Clients(); n != 1 {
		t.Errorf("Expected 1 tracked client, got %d", n)
	}
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, withRateLimit(0.01, 1))

	allowed := 0
	for i := 0; i < 50; i++ {
		xff := fmt.Sprintf("198.51.100.%d", i)
		if rec := s.do(t, http.MethodGet, "/api/resources", nil, "X-Forwarded-For", xff); rec.Code == http.StatusOK {
			allowed++
		}
	}

	if allowed != 1 {
		t.Errorf("Expected 1 request allowed, got %d", allowed)
	}
	if n := s.deps.RateLimiter.Clients(); n != 1 {
		t.Errorf("Expected 1 tracked client, got %d", n)
	}
}

func TestRateLimiter_ClientIP(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		RPS:   1,
		Burst: 1,
		TrustedProxies: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("192.0.2.1/32"),
		},
	}, logger.NewRecorder())
	defer rl.Stop()

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		want       string
	}{
		{"untrusted peer ignores header", "203.0.113.7:5000", []string{"198.51.100.1"}, "203.0.113.7"},
		{"untrusted peer without header", "203.0.113.7:5000", nil, "203.0.113.7"},
		{"trusted peer names client", "192.0.2.1:5000", []string{"198.51.100.1"}, "198.51.100.1"},
		{"trusted chain is skipped", "192.0.2.1:5000", []string{"198.51.100.1, 10.1.2.3"}, "198.51.100.1"},
		{"spoofed leftmost hop loses", "192.0.2.1:5000", []string{"1.1.1.1, 198.51.100.1"}, "198.51.100.1"},
		{"multiple header lines", "10.9.9.9:5000", []string{"1.1.1.1", "198.51.100.2"}, "198.51.100.2"},
		{"garbage hop stops the walk", "192.0.2.1:5000", []string{"198.51.100.1, not-an-ip"}, "192.0.2.1"},
		{"trusted peer without header", "192.0.2.1:5000", nil, "192.0.2.1"},
		{"ipv6 peer", "[2001:db8::1]:5000", []string{"198.51.100.1"}, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/resources", nil)
			r.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if got := rl.clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, CleanupInterval: time.Minute}, logger.NewRecorder())
	defer rl.Stop()

	rl.limiter("10.0.0.1")
	rl.cleanup(time.Now().Add(time.Minute))
	if rl.Clients() != 1 {
		t.Fatal("Recently used bucket should be kept")
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.Clients() != 0 {
		t.Error("Idle bucket should be dropped")
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodOptions, "/schedule-appointment", nil,
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("Unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials to be allowed")
	}

	rec = s.do(t, http.MethodGet, "/api/health", nil, "Origin", "http://evil.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Unlisted origins must not be allowed")
	}
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	h := CORS([]string{"http://localhost:5173", "*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		origin      string
		wantOrigin  string
		credentials string
	}{
		{"http://localhost:5173", "http://localhost:5173", "true"},
		{"http://other.example.com", "*", ""},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.credentials {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.credentials)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	rec := logger.NewRecorder()
	h := Recovery(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if len(rec.Find(logger.LevelError, "Panic recovered")) != 1 {
		t.Error("Expected the panic to be logged")
	}
}

func TestRequestLogging(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", nil, "X-Request-ID", "req-123")
	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("Expected request id to be echoed, got %q", rec.Header().Get("X-Request-ID"))
	}

	entries := s.rec.Find(logger.LevelInfo, "HTTP request")
	if len(entries) != 1 {
		t.Fatalf("Expected one request log, got %d", len(entries))
	}
	e := entries[0]
	if e.Fields["path"] != "/api/health" || e.Fields["status"] != http.StatusOK || e.Fields["request_id"] != "req-123" {
		t.Errorf("Unexpected fields: %v", e.Fields)
	}

	s.do(t, http.MethodGet, "/appointments/missing", nil)
	if len(s.rec.Find(logger.LevelWarn, "HTTP request")) != 1 {
		t.Error("Expected 404 to log at warn level")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/schedule-appointment", AppointmentRequest{Email: "a@b.com", AppointmentTime: "2030-01-01T20:00:00Z"})

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`theravoice_jobs_scheduled_total{kind="appointment_reminder"} 1`,
		`theravoice_http_requests_total{method="POST",route="/schedule-appointment",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Scrape missing %q", want)
		}
	}
}
