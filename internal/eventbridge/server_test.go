package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harbz07/sanctuary-mythology/internal/config"
	"github.com/harbz07/sanctuary-mythology/internal/lore"
	"github.com/harbz07/sanctuary-mythology/internal/mythos"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
	"github.com/harbz07/sanctuary-mythology/internal/storage"
)

func newEngine(t *testing.T, opts ...mythos.Option) *mythos.Engine {
	t.Helper()
	backend, err := storage.Open(storage.KindJSON, filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	gen, err := lore.NewGenerator(lore.WithSeed(3))
	require.NoError(t, err)
	engine, err := mythos.New(context.Background(), backend, append([]mythos.Option{mythos.WithGenerator(gen)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.Register(context.Background(), persona.Persona{
		Name:          "Nova",
		Role:          "System Architect",
		SamplePhrases: []string{"Nova: one.", "Nova: two."},
	}))
	return engine
}

func testSettings() Settings {
	return Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("MYTHOS_BRIDGE_PORT", "9001")
	t.Setenv("MYTHOS_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("MYTHOS_BRIDGE_ENABLED", "false")
	cfg := &config.Config{}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
}

func TestSettingsFromConfigUsesProjectValues(t *testing.T) {
	disabled := false
	cfg := &config.Config{Project: config.ProjectConfig{Bridge: config.BridgeConfig{Enabled: &disabled, Host: "localhost", Port: 9100}}}
	settings := SettingsFromConfig(cfg)
	if settings.Enabled || settings.Host != "localhost" || settings.Port != 9100 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if settings.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("max body = %d", settings.MaxBodyBytes)
	}
}

func TestSettingsCarryRouterAndDedupeSizes(t *testing.T) {
	t.Setenv("MYTHOS_BRIDGE_DEDUPE_WINDOW", "5")
	cfg := &config.Config{Project: config.ProjectConfig{Bridge: config.BridgeConfig{
		MaxBodyKB:        1,
		DedupeWindow:     2,
		SubscriberBuffer: 3,
		Backlog:          4,
	}}}
	settings := SettingsFromConfig(cfg)
	require.Equal(t, int64(1024), settings.MaxBodyBytes)
	require.Equal(t, 5, settings.DedupeWindow, "env wins over config.yaml")
	require.Equal(t, 3, settings.SubscriberCapacity)
	require.Equal(t, 4, settings.BacklogLimit)

	router := NewRouter(settings.RouterOptions()...)
	require.Equal(t, 3, router.channelSize)
	require.Equal(t, 4, router.backlogLimit)
	require.Equal(t, DefaultDedupeWindow, DefaultSettings().DedupeWindow)
}

func TestInvocationsDedupeWindowFromSettings(t *testing.T) {
	engine := newEngine(t)
	settings := testSettings()
	settings.DedupeWindow = 1
	ts := httptest.NewServer(NewServer(settings, engine).Handler())
	defer ts.Close()

	for _, id := range []string{"req-a", "req-b", "req-a"} {
		resp, body := postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: id, Persona: "Nova"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode, "%s: %s", id, body)
	}
	p, _ := engine.Get("Nova")
	require.Equal(t, 3, p.InvocationCount, "req-a fell out of a one-entry window")
}

func TestInvocationRequestValidate(t *testing.T) {
	req := InvocationRequest{Persona: "  Nova "}
	req.Normalize()
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if req.Persona != "Nova" || req.Weight() != mythos.DefaultWeight {
		t.Fatalf("normalize did not apply defaults: %+v", req)
	}
	req.Version = 99
	if err := req.Validate(); err == nil {
		t.Fatalf("expected version error")
	}
	if err := (InvocationRequest{Version: RequestSchemaVersion}).Validate(); err == nil {
		t.Fatalf("expected persona error")
	}
}

func TestServerStartServesHealth(t *testing.T) {
	engine := newEngine(t)
	srv := NewServer(testSettings(), engine, WithRouter(NewRouter()))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	require.NoError(t, srv.Start(context.Background()))
	require.Equal(t, StatusReady, srv.Status())

	resp, err := http.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, ProtocolVersion, health.Version)
	require.True(t, health.RouterReady)
	require.Equal(t, 1, health.Personas)

	require.Error(t, srv.Start(context.Background()), "second start must fail")
}

func TestServerDisabled(t *testing.T) {
	settings := testSettings()
	settings.Enabled = false
	srv := NewServer(settings, newEngine(t))
	require.ErrorIs(t, srv.Start(context.Background()), ErrServerDisabled)
	require.Error(t, NewServer(testSettings(), nil).Start(context.Background()))
}

func TestInvocationsEndpoint(t *testing.T) {
	router := NewRouter()
	engine := newEngine(t, mythos.WithObserver(router))
	sub := router.Subscribe("Nova")
	defer sub.Close()
	fixed := time.Unix(1730000000, 0).UTC()
	ts := httptest.NewServer(NewServer(testSettings(), engine, WithRouter(router), WithClock(func() time.Time { return fixed })).Handler())
	defer ts.Close()

	weight := 8
	resp, body := postJSON(t, ts.URL+"/invocations", InvocationRequest{
		RequestID:       "req-1",
		Persona:         "Nova",
		Context:         "designing",
		Tags:            []string{"architecture"},
		EmotionalWeight: &weight,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var accepted invocationResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.Equal(t, "accepted", accepted.Status)
	require.True(t, accepted.ServerTime.Equal(fixed))
	require.NotNil(t, accepted.Outcome)
	require.Equal(t, 1, accepted.Outcome.InvocationCount)
	require.Equal(t, 8, accepted.Outcome.EmotionalWeight)

	select {
	case ev := <-sub.Events:
		require.Equal(t, persona.EventInvocation, ev.Type)
		require.Equal(t, "designing", ev.Context)
	default:
		t.Fatalf("invocation event not routed")
	}

	resp, body = postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: "req-1", Persona: "Nova"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"duplicate"`)
	p, _ := engine.Get("Nova")
	require.Equal(t, 1, p.InvocationCount)

	resp, _ = postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: "req-2", Persona: "Ghost"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: "req-2", Persona: "Nova"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "failed request id must be retryable")

	resp, _ = postJSON(t, ts.URL+"/invocations", map[string]any{"version": 2, "persona": "Nova"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad, err := http.Post(ts.URL+"/invocations", "application/json", strings.NewReader("{oops"))
	require.NoError(t, err)
	bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)

	get, err := http.Get(ts.URL + "/invocations")
	require.NoError(t, err)
	get.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
	require.Equal(t, http.MethodPost, get.Header.Get("Allow"))
}

// flakyBackend accepts saves until fail is set.
type flakyBackend struct {
	fail atomic.Bool
}

func (b *flakyBackend) Load(context.Context) (storage.Snapshot, error) { return storage.Empty(), nil }

func (b *flakyBackend) Save(context.Context, storage.Snapshot) error {
	if b.fail.Load() {
		return errors.New("disk full")
	}
	return nil
}

func (b *flakyBackend) Close() error { return nil }

func TestInvocationSaveFailureKeepsRequestID(t *testing.T) {
	backend := &flakyBackend{}
	engine, err := mythos.New(context.Background(), backend)
	require.NoError(t, err)
	require.NoError(t, engine.Register(context.Background(), persona.Persona{Name: "Nova", Role: "System Architect"}))
	backend.fail.Store(true)

	ts := httptest.NewServer(NewServer(testSettings(), engine).Handler())
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: "req-9", Persona: "Nova"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode, string(body))
	p, _ := engine.Get("Nova")
	require.Equal(t, 1, p.InvocationCount)

	resp, body = postJSON(t, ts.URL+"/invocations", InvocationRequest{RequestID: "req-9", Persona: "Nova"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"duplicate"`)
	p, _ = engine.Get("Nova")
	require.Equal(t, 1, p.InvocationCount, "retry after a failed save must not count twice")
}

// gatedEngine holds Personas until release is closed.
type gatedEngine struct {
	*mythos.Engine
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEngine) Personas() []persona.Persona {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Engine.Personas()
}

func TestShutdownDrainsInFlightHealth(t *testing.T) {
	engine := &gatedEngine{Engine: newEngine(t), entered: make(chan struct{}, 1), release: make(chan struct{})}
	srv := NewServer(testSettings(), engine)
	require.NoError(t, srv.Start(context.Background()))

	got := make(chan error, 1)
	go func() {
		resp, err := http.Get(srv.BaseURL() + "/health")
		if err == nil {
			resp.Body.Close()
		}
		got <- err
	}()
	<-engine.entered

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(ctx)
	}()
	require.Eventually(t, func() bool { return srv.Status() == StatusDraining }, 2*time.Second, 5*time.Millisecond)
	close(engine.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not return after the handler finished")
	}
	require.NoError(t, <-got)
	require.Empty(t, srv.Addr())
}

func TestInvocationsRejectPolicy(t *testing.T) {
	engine := newEngine(t, mythos.WithWeightPolicy(mythos.WeightReject))
	ts := httptest.NewServer(NewServer(testSettings(), engine).Handler())
	defer ts.Close()
	weight := 42
	resp, body := postJSON(t, ts.URL+"/invocations", InvocationRequest{Persona: "Nova", EmotionalWeight: &weight})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestServerEnforcesPayloadLimit(t *testing.T) {
	settings := testSettings()
	settings.MaxBodyBytes = 64
	ts := httptest.NewServer(NewServer(settings, newEngine(t)).Handler())
	defer ts.Close()
	resp, _ := postJSON(t, ts.URL+"/invocations", map[string]any{
		"persona": "Nova",
		"context": strings.Repeat("a", 512),
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	engine := newEngine(t)
	ts := httptest.NewServer(NewServer(testSettings(), engine).Handler())
	defer ts.Close()

	get := func(path string) (int, string, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header.Get("Content-Type"), string(data)
	}

	status, _, body := get("/personas")
	require.Equal(t, http.StatusOK, status)
	var personas []persona.Persona
	require.NoError(t, json.Unmarshal([]byte(body), &personas))
	require.Len(t, personas, 1)
	require.Equal(t, persona.CategoryNova, personas[0].Category)

	status, contentType, body := get("/report?persona=Nova")
	require.Equal(t, http.StatusOK, status)
	require.True(t, strings.HasPrefix(contentType, "text/plain"))
	require.Contains(t, body, "## Nova — System Architect")

	status, _, _ = get("/report?persona=Ghost")
	require.Equal(t, http.StatusNotFound, status)

	status, contentType, body = get("/export")
	require.Equal(t, http.StatusOK, status)
	require.True(t, strings.HasPrefix(contentType, "application/yaml"))
	require.Contains(t, body, "  Nova:\n")
}

func TestEmergenceEndpoint(t *testing.T) {
	ts := httptest.NewServer(NewServer(testSettings(), newEngine(t)).Handler())
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/emergence", EmergenceRequest{Need: "ritual design"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var suggestion mythos.Suggestion
	require.NoError(t, json.Unmarshal(body, &suggestion))
	require.Equal(t, "Current constellation lacks coverage for: ritual design", suggestion.Rationale)

	resp, _ = postJSON(t, ts.URL+"/emergence", EmergenceRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
