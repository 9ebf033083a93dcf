package auth

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/agent/tokenstore"
	"tokenwatch/pkg/model"
)

const scenarioToken = "ABCDEFGHIJKLMNOPQRSTUVWX12345678"

type fakeBus struct {
	mu     sync.Mutex
	events []model.TokenEvent
}

func (b *fakeBus) Emit(e model.TokenEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBus) kinds() []model.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EventKind, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestRegistry(t *testing.T, now time.Time, opts ...Option) (*Registry, *tokenstore.Store, *fakeBus) {
	t.Helper()
	clock := func() time.Time { return now }
	store := tokenstore.New(tokenstore.WithClock(clock))
	bus := &fakeBus{}
	opts = append([]Option{WithClock(clock)}, opts...)
	r, err := NewRegistry(BuiltinSystems(), store, bus, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, store, bus
}

func request(host, path string, port int, headers ...httpmatcher.Header) *httpmatcher.Message {
	return &httpmatcher.Message{
		Direction:     httpmatcher.DirectionRequest,
		Method:        "GET",
		Path:          path,
		Version:       "HTTP/1.1",
		Host:          host,
		DstIP:         "10.0.0.2",
		DstPort:       port,
		SrcIP:         "10.0.0.1",
		SrcPort:       50000,
		ContentLength: -1,
		Headers:       append([]httpmatcher.Header{{Name: "Host", Value: host}}, headers...),
	}
}

func TestRegistry_EndToEndUserCenter(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	r, store, bus := newTestRegistry(t, now)

	m := request("user.example.com", "/api", 80, httpmatcher.Header{Name: "X-Auth-Token", Value: scenarioToken})
	if n := r.Process(m); n != 1 {
		t.Fatalf("Process updated %d systems; want 1", n)
	}

	tok, ok := store.Token("user_center")
	if !ok || tok != scenarioToken {
		t.Fatalf("Token = %q, %v", tok, ok)
	}
	var status model.TokenStatus
	for _, st := range store.Snapshot(r.Systems()) {
		if st.SystemID == "user_center" {
			status = st
		}
	}
	if status.State != model.StateActive {
		t.Errorf("state = %s; want active", status.State)
	}
	if d := status.ExpiresAt.Sub(*status.AcquiredAt); d != 7200*time.Second {
		t.Errorf("expires - acquired = %v; want 2h", d)
	}

	if len(bus.events) != 1 {
		t.Fatalf("events = %d; want 1", len(bus.events))
	}
	e := bus.events[0]
	if e.Kind != model.EventAcquired || e.SourceURL != "http://user.example.com/api" || e.Token != scenarioToken {
		t.Errorf("event = %+v", e)
	}
	if last, ok := r.LastRequest("user_center"); !ok || last != m {
		t.Error("LastRequest not recorded")
	}
}

func TestRegistry_URLMismatchNeverUpdates(t *testing.T) {
	r, store, bus := newTestRegistry(t, time.Now())
	hdr := httpmatcher.Header{Name: "X-Auth-Token", Value: scenarioToken}

	for _, m := range []*httpmatcher.Message{
		request("shop.example.com", "/api", 80, hdr),
		request("user.example.com", "/login", 80, hdr),
		request("user.example.com", "/apiv2", 80, hdr),
	} {
		r.Process(m)
	}
	if _, ok := store.Get("user_center"); ok {
		t.Error("store updated for non-matching URL")
	}
	if len(bus.events) != 0 {
		t.Errorf("events = %v; want none", bus.kinds())
	}
}

func TestRegistry_ValidationFailureLeavesStore(t *testing.T) {
	now := time.Now()
	r, store, bus := newTestRegistry(t, now)

	good := request("user.example.com", "/api", 80, httpmatcher.Header{Name: "x-auth-token", Value: scenarioToken})
	r.Process(good)
	before, _ := store.Get("user_center")

	// 门户要求至少 11 位："Bearer x" 只有 8 位
	bad := request("portal.example.com:8080", "/api/menu", 8080, httpmatcher.Header{Name: "Authorization", Value: "Bearer x"})
	r.Process(bad)

	cookie := request("bi.example.com", "/index", 80, httpmatcher.Header{Name: "Cookie", Value: "a=1; x_login_pk="})
	r.Process(cookie)

	if _, ok := store.Get("governance"); ok {
		t.Error("governance stored despite validation failure")
	}
	if _, ok := store.Get("bi"); ok {
		t.Error("bi stored despite validation failure")
	}
	after, _ := store.Get("user_center")
	if after != before {
		t.Error("unrelated system record changed")
	}

	want := []model.EventKind{model.EventAcquired, model.EventFailed, model.EventFailed}
	got := bus.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s; want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_DuplicateTokenSuppressed(t *testing.T) {
	r, store, bus := newTestRegistry(t, time.Now())
	m := request("user.example.com", "/api", 80, httpmatcher.Header{Name: "X-Auth-Token", Value: scenarioToken})

	r.Process(m)
	r.Process(m)
	if len(bus.events) != 1 {
		t.Errorf("events = %d; want 1", len(bus.events))
	}
	if v := store.Version(); v != 1 {
		t.Errorf("store writes = %d; want 1", v)
	}

	// 新 token 视为变更
	changed := request("user.example.com", "/api", 80, httpmatcher.Header{Name: "X-Auth-Token", Value: scenarioToken + "9"})
	r.Process(changed)
	if len(bus.events) != 2 || store.Version() != 2 {
		t.Errorf("changed token: events=%d version=%d", len(bus.events), store.Version())
	}
}

func TestRegistry_ExpiredTokenReacquired(t *testing.T) {
	now := time.Now()
	clock := &now
	store := tokenstore.New(tokenstore.WithClock(func() time.Time { return *clock }))
	bus := &fakeBus{}
	r, err := NewRegistry(BuiltinSystems(), store, bus, zap.NewNop(), WithClock(func() time.Time { return *clock }))
	if err != nil {
		t.Fatal(err)
	}
	m := request("user.example.com", "/api", 80, httpmatcher.Header{Name: "X-Auth-Token", Value: scenarioToken})
	r.Process(m)
	*clock = now.Add(3 * time.Hour)
	r.Process(m)
	if len(bus.events) != 2 {
		t.Errorf("events = %d; want 2 (re-acquire after expiry)", len(bus.events))
	}
}

func TestRegistry_Responses(t *testing.T) {
	resp := &httpmatcher.Message{
		Direction:  httpmatcher.DirectionResponse,
		StatusCode: 200,
		Version:    "HTTP/1.1",
		RequestURL: "http://user.example.com/api",
		Headers:    []httpmatcher.Header{{Name: "X-Auth-Token", Value: scenarioToken}},
	}

	r, store, _ := newTestRegistry(t, time.Now())
	r.Process(resp)
	if _, ok := store.Get("user_center"); ok {
		t.Error("responses must be ignored by default")
	}

	r, store, _ = newTestRegistry(t, time.Now(), WithScanResponses(true))
	r.Process(resp)
	if tok, ok := store.Token("user_center"); !ok || tok != scenarioToken {
		t.Error("response scanning enabled but token not stored")
	}

	unpaired := *resp
	unpaired.RequestURL = ""
	r, store, _ = newTestRegistry(t, time.Now(), WithScanResponses(true))
	r.Process(&unpaired)
	if _, ok := store.Get("user_center"); ok {
		t.Error("unpaired response must be skipped")
	}
}

func TestRegistry_BuiltinSystems(t *testing.T) {
	r, store, _ := newTestRegistry(t, time.Now())
	tests := []struct {
		id  string
		msg *httpmatcher.Message
	}{
		{"data_platform", request("data.example.com", "/api/query", 80,
			httpmatcher.Header{Name: "Access-Token", Value: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"})},
		{"business", request("business.example.com", "/orders", 443,
			httpmatcher.Header{Name: "Authentication", Value: "Token QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVoxMjM0NTY3ODkw"})},
		{"bi", request("bi.example.com", "/report", 80,
			httpmatcher.Header{Name: "Cookie", Value: "lang=zh; x_login_pk=42abc"})},
		{"drs", request("drs.example.com", "/", 80,
			httpmatcher.Header{Name: "Cookie", Value: "pdp_cqdrs_session=s3ss"})},
		{"governance", request("portal.example.com:8080", "/api/menu", 8080,
			httpmatcher.Header{Name: "Authorization", Value: "Bearer abc.def"})},
	}
	for _, tt := range tests {
		r.Process(tt.msg)
		if _, ok := store.Token(tt.id); !ok {
			t.Errorf("%s: token not acquired", tt.id)
		}
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	store := tokenstore.New()
	cfgs := BuiltinSystems()
	if _, err := NewRegistry(append(cfgs, cfgs[0]), store, &fakeBus{}, zap.NewNop()); err == nil {
		t.Error("duplicate system id accepted")
	}
	bad := cfgs[0]
	bad.TokenPattern = `[a-z]+`
	if _, err := NewRegistry([]Config{bad}, store, &fakeBus{}, zap.NewNop()); err == nil {
		t.Error("token pattern without capture group accepted")
	}
}
