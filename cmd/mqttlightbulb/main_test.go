package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqttlightbulb/internal/api"
	"github.com/nerrad567/mqttlightbulb/internal/history"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/database"
	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlightbulb/internal/light"
)

type publishedMessage struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker is an in-memory brokerClient.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]func(topic string, payload []byte)
	published []publishedMessage
	closed    bool
	healthErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]func(string, []byte))}
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) HealthCheck(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deliver simulates an inbound message on an exact subscription.
func (f *fakeBroker) deliver(topic, payload string) {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(topic, []byte(payload))
	}
}

func (f *fakeBroker) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func (f *fakeBroker) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out one fakeBroker per accessory.
type fakeFactory struct {
	mu      sync.Mutex
	brokers map[string]*fakeBroker
	failOn  string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{brokers: make(map[string]*fakeBroker)}
}

func (f *fakeFactory) connect(acc config.AccessoryConfig, _ config.MQTTConfig, _ *logging.Logger) (brokerClient, error) {
	if acc.Name == f.failOn {
		return nil, errors.New("broker unreachable")
	}
	b := newFakeBroker()
	f.mu.Lock()
	f.brokers[acc.Name] = b
	f.mu.Unlock()
	return b, nil
}

func (f *fakeFactory) broker(name string) *fakeBroker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.brokers[name]
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testAccessory(name string) config.AccessoryConfig {
	return config.AccessoryConfig{
		Name:   name,
		URL:    "mqtt://127.0.0.1:1883",
		Retain: true,
		Topics: config.TopicsConfig{
			GetOn:  "stat/" + name + "/POWER",
			SetOn:  "cmnd/" + name + "/POWER",
			GetHSB: "stat/" + name + "/RESULT",
			SetHSB: "cmnd/" + name + "/HSBColor",
		},
	}
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("MQTTLIGHTBULB_CONFIG", "")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("MQTTLIGHTBULB_CONFIG", "/etc/mqttlightbulb/config.yaml")

	if got := getConfigPath(); got != "/etc/mqttlightbulb/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	factory := newFakeFactory()

	err := run(context.Background(), "/nonexistent/path/config.yaml", factory.connect)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
	if len(factory.brokers) != 0 {
		t.Error("no broker connection should be opened for an invalid config")
	}
}

func TestRun_HistoryOpenFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	path := writeTestConfig(t, `
accessories:
  - name: "Desk Lamp"
    url: "mqtt://127.0.0.1:1883"
    topics:
      getOn: "stat/desk/POWER"
      setOn: "cmnd/desk/POWER"
      getHsb: "stat/desk/RESULT"
      setHsb: "cmnd/desk/HSBColor"
history:
  enabled: true
  path: "`+filepath.Join(blocker, "history.db")+`"
logging:
  level: error
  format: text
`)

	err := run(context.Background(), path, newFakeFactory().connect)
	if err == nil || !strings.Contains(err.Error(), "history database") {
		t.Errorf("run() error = %v, want history database failure", err)
	}
}

func TestRun_ShutdownClosesAccessories(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, `
accessories:
  - name: "Desk Lamp"
    url: "mqtt://127.0.0.1:1883"
    topics:
      getOn: "stat/desk/POWER"
      setOn: "cmnd/desk/POWER"
      getHsb: "stat/desk/RESULT"
      setHsb: "cmnd/desk/HSBColor"
homekit:
  storage_path: "`+filepath.Join(dir, "homekit")+`"
  address: "127.0.0.1:0"
history:
  enabled: true
  path: "`+filepath.Join(dir, "history.db")+`"
logging:
  level: error
  format: text
`)

	factory := newFakeFactory()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// The HAP listener may fail without multicast; either way every
	// accessory must be shut down.
	if err := run(ctx, path, factory.connect); err != nil {
		t.Logf("run() returned error: %v (may be due to missing mDNS)", err)
	}

	b := factory.broker("Desk Lamp")
	if b == nil {
		t.Fatal("accessory broker was never connected")
	}
	if !b.isClosed() {
		t.Error("broker connection not closed on shutdown")
	}
}

func TestRun_DoesNotLogSetupPin(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, `
accessories:
  - name: "Desk Lamp"
    url: "mqtt://127.0.0.1:1883"
    topics:
      getOn: "stat/desk/POWER"
      setOn: "cmnd/desk/POWER"
      getHsb: "stat/desk/RESULT"
      setHsb: "cmnd/desk/HSBColor"
homekit:
  pin: "123-45-678"
  storage_path: "`+filepath.Join(dir, "homekit")+`"
  address: "127.0.0.1:0"
logging:
  level: info
  format: text
  output: stderr
`)

	logFile, err := os.Create(filepath.Join(dir, "stderr.log"))
	if err != nil {
		t.Fatalf("creating log file: %v", err)
	}
	defer logFile.Close()
	stderr := os.Stderr
	os.Stderr = logFile
	defer func() { os.Stderr = stderr }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = run(ctx, path, newFakeFactory().connect) //nolint:errcheck // HAP may fail without mDNS

	os.Stderr = stderr
	logged, err := os.ReadFile(logFile.Name())
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(logged), "initialisation complete") {
		t.Fatalf("startup log not captured:\n%s", logged)
	}
	if strings.Contains(string(logged), "123-45-678") || strings.Contains(string(logged), "12345678") {
		t.Errorf("setup PIN appears in the log:\n%s", logged)
	}
}

func TestBuildAccessories_Wiring(t *testing.T) {
	cfg := &config.Config{
		Accessories: []config.AccessoryConfig{testAccessory("desk"), testAccessory("ceiling")},
	}
	factory := newFakeFactory()

	accessories, err := buildAccessories(cfg, factory.connect, nil, testLogger())
	if err != nil {
		t.Fatalf("buildAccessories() error = %v", err)
	}
	defer closeAccessories(accessories, testLogger())

	if len(accessories) != 2 {
		t.Fatalf("len(accessories) = %d, want 2", len(accessories))
	}
	if accessories[0].cfg.Name != "desk" || accessories[1].cfg.Name != "ceiling" {
		t.Errorf("accessories out of config order")
	}

	desk := accessories[0]
	if err := desk.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	broker := factory.broker("desk")

	// Device update reaches HomeKit and is not echoed.
	broker.deliver("stat/desk/RESULT", `{"HSBColor":"120,50,75"}`)

	if got := desk.bulb.Lightbulb.Brightness.Value(); got != 75 {
		t.Errorf("HomeKit brightness = %d, want 75", got)
	}
	if got := desk.bulb.Lightbulb.Hue.Value(); got != 120 {
		t.Errorf("HomeKit hue = %v, want 120", got)
	}
	if !desk.bulb.Lightbulb.On.Value() {
		t.Error("HomeKit on = false, want true")
	}
	if msgs := broker.messages(); len(msgs) != 0 {
		t.Errorf("device update was echoed: %+v", msgs)
	}

	// A controller write is published with the accessory retain flag.
	req := httptest.NewRequest(http.MethodPut, "/characteristics", nil)
	if _, code := desk.bulb.Lightbulb.On.SetValueRequest(false, req); code != 0 {
		t.Fatalf("controller write status = %d", code)
	}

	msgs := broker.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "cmnd/desk/POWER" || msgs[0].payload != light.PowerOff || !msgs[0].retained {
		t.Errorf("published %+v", msgs[0])
	}

	// The other accessory has its own broker.
	if len(factory.broker("ceiling").messages()) != 0 {
		t.Error("ceiling broker received desk traffic")
	}
}

func TestAddBrokerChecks(t *testing.T) {
	cfg := &config.Config{
		Accessories: []config.AccessoryConfig{testAccessory("desk"), testAccessory("ceiling")},
	}
	factory := newFakeFactory()
	accessories, err := buildAccessories(cfg, factory.connect, nil, testLogger())
	if err != nil {
		t.Fatalf("buildAccessories() error = %v", err)
	}
	defer closeAccessories(accessories, testLogger())

	lost := errors.New("not connected")
	factory.broker("ceiling").healthErr = lost

	checks := map[string]api.HealthChecker{}
	addBrokerChecks(checks, accessories)

	if len(checks) != 2 {
		t.Fatalf("checks = %v, want one per accessory", checks)
	}
	if err := checks["mqtt:desk"].HealthCheck(context.Background()); err != nil {
		t.Errorf("mqtt:desk HealthCheck() error = %v", err)
	}
	if err := checks["mqtt:ceiling"].HealthCheck(context.Background()); !errors.Is(err, lost) {
		t.Errorf("mqtt:ceiling HealthCheck() error = %v, want %v", err, lost)
	}
}

func TestBuildAccessories_ConnectFailureClosesEarlier(t *testing.T) {
	cfg := &config.Config{
		Accessories: []config.AccessoryConfig{testAccessory("desk"), testAccessory("ceiling")},
	}
	factory := newFakeFactory()
	factory.failOn = "ceiling"

	_, err := buildAccessories(cfg, factory.connect, nil, testLogger())
	if err == nil {
		t.Fatal("buildAccessories() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), `"ceiling"`) {
		t.Errorf("error = %v, want it to name the accessory", err)
	}
	if !factory.broker("desk").isClosed() {
		t.Error("earlier accessory broker not closed")
	}
}

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *countingRecorder) RecordStateChange(context.Context, light.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func TestRecorderFor(t *testing.T) {
	if recorderFor(nil) != nil {
		t.Error("recorderFor(nil) should be nil")
	}

	single := &countingRecorder{}
	if got := recorderFor(light.Recorders{single}); got != single {
		t.Errorf("recorderFor(one) = %v, want the recorder itself", got)
	}

	a, b := &countingRecorder{}, &countingRecorder{}
	fanout := recorderFor(light.Recorders{a, b})
	if err := fanout.RecordStateChange(context.Background(), light.StateChange{Accessory: "x"}); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}
	if a.count != 1 || b.count != 1 {
		t.Errorf("fan-out counts = %d, %d, want 1, 1", a.count, b.count)
	}
}

func TestPruneHistory(t *testing.T) {
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := history.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store := history.NewStore(db.DB)

	now := time.Now()
	for _, at := range []time.Time{now.Add(-72 * time.Hour), now.Add(-time.Minute)} {
		if err := store.RecordStateChange(ctx, light.StateChange{
			Accessory: "desk",
			Field:     light.FieldOn,
			Origin:    light.OriginDevice,
			Time:      at,
		}); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	pruneHistory(ctx, store, 24*time.Hour, testLogger())

	entries, err := store.GetHistory(ctx, "desk", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("len(entries) after prune = %d, want 1", len(entries))
	}
}

func TestPruneHistoryLoop_StopsOnCancel(t *testing.T) {
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	if err := history.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneHistoryLoop(ctx, history.NewStore(db.DB), time.Hour, 10*time.Millisecond, testLogger())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruneHistoryLoop did not stop after cancel")
	}
}

var _ brokerClient = (*mqttBridgeAdapter)(nil)
