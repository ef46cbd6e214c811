package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/mqttlightbulb/internal/history"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlightbulb/internal/light"
)

type fakeAccessory struct {
	name      string
	connected bool
	state     light.LightState
}

func (f *fakeAccessory) Name() string            { return f.name }
func (f *fakeAccessory) Connected() bool         { return f.connected }
func (f *fakeAccessory) State() light.LightState { return f.state }
func (f *fakeAccessory) Topics() light.Topics {
	return light.Topics{
		GetOn:  "stat/" + f.name + "/POWER",
		SetOn:  "cmnd/" + f.name + "/POWER",
		GetHSB: "stat/" + f.name + "/RESULT",
		SetHSB: "cmnd/" + f.name + "/HSBColor",
	}
}

type fakeHistory struct {
	entries   []history.Entry
	err       error
	gotName   string
	gotLimit  int
	callCount int
}

func (f *fakeHistory) GetHistory(_ context.Context, accessory string, limit int) ([]history.Entry, error) {
	f.callCount++
	f.gotName = accessory
	f.gotLimit = limit
	return f.entries, f.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server with two accessories.
func testServer(t *testing.T, mutate func(*Deps)) (*Server, http.Handler) {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger: testLogger(),
		Accessories: []Accessory{
			&fakeAccessory{name: "Desk Lamp", connected: true, state: light.LightState{On: true, Hue: 120, Saturation: 50, Brightness: 75}},
			&fakeAccessory{name: "Ceiling", connected: true},
		},
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, srv.buildRouter()
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Accessories: []Accessory{&fakeAccessory{name: "a"}}}},
		{"no accessories", Deps{Logger: testLogger()}},
		{"duplicate names", Deps{
			Logger:      testLogger(),
			Accessories: []Accessory{&fakeAccessory{name: "a"}, &fakeAccessory{name: "a"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		_, h := testServer(t, func(d *Deps) {
			d.Checks = map[string]HealthChecker{
				"history": checkFunc(func(context.Context) error { return nil }),
			}
		})

		rec := doRequest(t, h, http.MethodGet, "/api/v1/health")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp healthResponse
		decode(t, rec, &resp)
		if resp.Status != "ok" || resp.Version != "test" {
			t.Errorf("resp = %+v", resp)
		}
		if resp.Components["history"] != "ok" {
			t.Errorf("history component = %q, want ok", resp.Components["history"])
		}
		if !resp.Accessories["Desk Lamp"] {
			t.Error("Desk Lamp should be reported connected")
		}
	})

	t.Run("disconnected accessory", func(t *testing.T) {
		_, h := testServer(t, func(d *Deps) {
			d.Accessories[1].(*fakeAccessory).connected = false
		})

		rec := doRequest(t, h, http.MethodGet, "/api/v1/health")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}

		var resp healthResponse
		decode(t, rec, &resp)
		if resp.Status != "degraded" || resp.Accessories["Ceiling"] {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("failing component", func(t *testing.T) {
		_, h := testServer(t, func(d *Deps) {
			d.Checks = map[string]HealthChecker{
				"influxdb": checkFunc(func(context.Context) error { return errors.New("ping failed") }),
			}
		})

		rec := doRequest(t, h, http.MethodGet, "/api/v1/health")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}

		var resp healthResponse
		decode(t, rec, &resp)
		if resp.Components["influxdb"] != "ping failed" {
			t.Errorf("influxdb component = %q", resp.Components["influxdb"])
		}
	})
}

func TestHandleListAccessories(t *testing.T) {
	_, h := testServer(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Accessories []accessoryResponse `json:"accessories"`
		Count       int                 `json:"count"`
	}
	decode(t, rec, &resp)

	if resp.Count != 2 || len(resp.Accessories) != 2 {
		t.Fatalf("count = %d, len = %d, want 2", resp.Count, len(resp.Accessories))
	}
	if resp.Accessories[0].Name != "Desk Lamp" || resp.Accessories[1].Name != "Ceiling" {
		t.Errorf("order = %s, %s", resp.Accessories[0].Name, resp.Accessories[1].Name)
	}
	if resp.Accessories[0].Topics.SetHSB != "cmnd/Desk Lamp/HSBColor" {
		t.Errorf("topics.setHsb = %q", resp.Accessories[0].Topics.SetHSB)
	}
}

func TestHandleGetAccessoryState(t *testing.T) {
	_, h := testServer(t, nil)

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Desk%20Lamp/state")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
		}

		var resp accessoryResponse
		decode(t, rec, &resp)
		want := light.LightState{On: true, Hue: 120, Saturation: 50, Brightness: 75}
		if resp.State != want {
			t.Errorf("state = %+v, want %+v", resp.State, want)
		}
		if !resp.Connected {
			t.Error("connected = false, want true")
		}
	})

	t.Run("unknown accessory", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Nope/state")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}

		var resp Error
		decode(t, rec, &resp)
		if resp.Code != ErrCodeNotFound {
			t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
		}
	})
}

func TestHandleGetAccessoryHistory(t *testing.T) {
	entries := []history.Entry{
		{ID: 2, Accessory: "Desk Lamp", Field: light.FieldOn, Origin: "host", CreatedAt: time.Date(2026, 10, 19, 12, 0, 1, 0, time.UTC)},
		{ID: 1, Accessory: "Desk Lamp", Field: light.FieldHSB, Origin: "device", CreatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)},
	}

	t.Run("default limit", func(t *testing.T) {
		hist := &fakeHistory{entries: entries}
		_, h := testServer(t, func(d *Deps) { d.History = hist })

		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Desk%20Lamp/history")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp historyResponse
		decode(t, rec, &resp)
		if resp.Count != 2 || resp.Entries[0].ID != 2 {
			t.Errorf("resp = %+v", resp)
		}
		if hist.gotName != "Desk Lamp" || hist.gotLimit != defaultHistoryLimit {
			t.Errorf("GetHistory(%q, %d)", hist.gotName, hist.gotLimit)
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		hist := &fakeHistory{}
		_, h := testServer(t, func(d *Deps) { d.History = hist })

		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Ceiling/history?limit=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if hist.gotLimit != 5 {
			t.Errorf("limit = %d, want 5", hist.gotLimit)
		}

		// nil entries still encode as an empty array
		if !strings.Contains(rec.Body.String(), `"entries":[]`) {
			t.Errorf("body = %s, want empty entries array", rec.Body.String())
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		hist := &fakeHistory{}
		_, h := testServer(t, func(d *Deps) { d.History = hist })

		for _, q := range []string{"limit=abc", "limit=0", "limit=201"} {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Ceiling/history?"+q)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", q, rec.Code)
			}
		}
		if hist.callCount != 0 {
			t.Errorf("GetHistory called %d times for invalid limits", hist.callCount)
		}
	})

	t.Run("history disabled", func(t *testing.T) {
		_, h := testServer(t, nil)

		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Ceiling/history")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("store error", func(t *testing.T) {
		hist := &fakeHistory{err: errors.New("disk I/O error")}
		_, h := testServer(t, func(d *Deps) { d.History = hist })

		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Ceiling/history")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("unknown accessory", func(t *testing.T) {
		hist := &fakeHistory{}
		_, h := testServer(t, func(d *Deps) { d.History = hist })

		rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories/Nope/history")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestReadOnly(t *testing.T) {
	_, h := testServer(t, nil)

	rec := doRequest(t, h, http.MethodPut, "/api/v1/accessories/Ceiling/state")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT state status = %d, want 405", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	_, h := testServer(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/accessories")
	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accessories", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "abc123" {
		t.Errorf("X-Request-ID = %q, want client value", id)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t, nil)

	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.Timeouts = config.APITimeoutConfig{Read: 7, Write: 9, Idle: 11}
	})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if srv.server.ReadTimeout != 7*time.Second || srv.server.WriteTimeout != 9*time.Second || srv.server.IdleTimeout != 11*time.Second {
		t.Errorf("timeouts = %v/%v/%v, want 7s/9s/11s", srv.server.ReadTimeout, srv.server.WriteTimeout, srv.server.IdleTimeout)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"200", 200, false},
		{"201", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = (%d, %v), want (%d, err=%v)", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}
