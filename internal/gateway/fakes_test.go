package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhome/ember-gateway/internal/auth"
	"github.com/emberhome/ember-gateway/internal/binding"
	"github.com/emberhome/ember-gateway/internal/device"
	"github.com/emberhome/ember-gateway/internal/infrastructure/config"
	"github.com/emberhome/ember-gateway/internal/infrastructure/logging"
)

// fakeWire is an in-memory wire implementation. Inbound frames are pushed
// with push(); outbound text frames arrive on out.
type fakeWire struct {
	inbound chan []byte
	out     chan Envelope

	mu     sync.Mutex
	pings  int
	closed bool
	noPong bool // suppress the automatic pong reply to pings

	closeOnce sync.Once
	closeCh   chan struct{}

	pongHandler func(string) error
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		inbound: make(chan []byte, 16),
		out:     make(chan Envelope, 64),
		closeCh: make(chan struct{}),
	}
}

func (w *fakeWire) ReadMessage() (int, []byte, error) {
	select {
	case data := <-w.inbound:
		return websocket.TextMessage, data, nil
	case <-w.closeCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (w *fakeWire) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	closed := w.closed
	pong := w.pongHandler
	if messageType == websocket.PingMessage {
		w.pings++
		if w.noPong {
			pong = nil
		}
	} else {
		pong = nil
	}
	w.mu.Unlock()

	if closed {
		return errors.New("write on closed connection")
	}
	// A live peer answers protocol pings unless the test suppresses it.
	if pong != nil {
		go pong("") //nolint:errcheck // test pong is best-effort
	}
	if messageType == websocket.TextMessage {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		w.out <- env
	}
	return nil
}

func (w *fakeWire) SetReadLimit(int64) {}

func (w *fakeWire) SetWriteDeadline(time.Time) error { return nil }

func (w *fakeWire) SetPongHandler(h func(appData string) error) { w.pongHandler = h }

func (w *fakeWire) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.closeCh)
	})
	return nil
}

func (w *fakeWire) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWire) pingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pings
}

// push delivers a frame to the connection's read loop.
func (w *fakeWire) push(t *testing.T, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshalling test frame: %v", err)
	}
	w.inbound <- data
}

func (w *fakeWire) pushPayload(t *testing.T, msgType string, payload any) {
	t.Helper()
	env, err := envelope(msgType, payload, "")
	if err != nil {
		t.Fatalf("building test frame: %v", err)
	}
	w.push(t, env)
}

// waitFrame blocks until the connection writes a frame, or fails the test.
func (w *fakeWire) waitFrame(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-w.out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return Envelope{}
	}
}

// expectNoFrame asserts no frame arrives within the window.
func (w *fakeWire) expectNoFrame(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case env := <-w.out:
		t.Fatalf("unexpected outbound frame: %+v", env)
	case <-time.After(window):
	}
}

// waitClosed blocks until the wire is closed, or fails the test.
func (w *fakeWire) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-w.closeCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection close")
	}
}

// fakeBinder hands out one owner per known token and consumes tokens on
// first use, mirroring the one-shot transaction of the real store.
type fakeBinder struct {
	mu       sync.Mutex
	tokens   map[string]string // token -> owner user ID
	consumed map[string]bool
}

func newFakeBinder(tokens map[string]string) *fakeBinder {
	return &fakeBinder{tokens: tokens, consumed: make(map[string]bool)}
}

func (b *fakeBinder) BindDevice(_ context.Context, token, _, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	owner, ok := b.tokens[token]
	if !ok || b.consumed[token] {
		return "", auth.ErrTokenInvalid
	}
	b.consumed[token] = true
	return owner, nil
}

// fakeDirectory maps devices to owners.
type fakeDirectory struct {
	mu     sync.Mutex
	owners map[string]string // hardware ID -> owner user ID
}

func newFakeDirectory(owners map[string]string) *fakeDirectory {
	if owners == nil {
		owners = make(map[string]string)
	}
	return &fakeDirectory{owners: owners}
}

func (d *fakeDirectory) FindOwner(_ context.Context, hardwareID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.owners[hardwareID]
	if !ok {
		return "", device.ErrNotFound
	}
	return owner, nil
}

func (d *fakeDirectory) ListDevices(_ context.Context, ownerID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for hardwareID, owner := range d.owners {
		if owner == ownerID {
			ids = append(ids, hardwareID)
		}
	}
	return ids, nil
}

// fakeConfigs returns a fixed snapshot per hardware ID.
type fakeConfigs struct {
	snapshots map[string]*device.ConfigSnapshot
}

func (f *fakeConfigs) GetConfig(_ context.Context, hardwareID string) (*device.ConfigSnapshot, error) {
	if f.snapshots == nil {
		return nil, nil
	}
	return f.snapshots[hardwareID], nil
}

// recordedCommand is one audit entry captured by fakeTelemetry.
type recordedCommand struct {
	hardwareID string
	userID     string
	state      string
}

// fakeTelemetry captures every record call.
type fakeTelemetry struct {
	mu        sync.Mutex
	tempHumis int
	presences []string
	sounds    int
	commands  []recordedCommand
}

func (f *fakeTelemetry) RecordTempHumi(string, float64, float64) {
	f.mu.Lock()
	f.tempHumis++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordPresence(_, sensor string, _ bool) {
	f.mu.Lock()
	f.presences = append(f.presences, sensor)
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordSoundEvent(string) {
	f.mu.Lock()
	f.sounds++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordCommand(_ context.Context, hardwareID, userID, state string) error {
	f.mu.Lock()
	f.commands = append(f.commands, recordedCommand{hardwareID, userID, state})
	f.mu.Unlock()
	return nil
}

func (f *fakeTelemetry) commandLog() []recordedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCommand(nil), f.commands...)
}

// fakeVerifier accepts a fixed token set.
type fakeVerifier struct {
	identities map[string]*auth.Identity // token -> identity
}

func (v *fakeVerifier) Verify(token string) (*auth.Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	return id, nil
}

// testDeps bundles the fakes behind a Gateway under test.
type testDeps struct {
	binder    *fakeBinder
	directory *fakeDirectory
	configs   *fakeConfigs
	telemetry *fakeTelemetry
	verifier  *fakeVerifier
}

func testGateway(t *testing.T) (*Gateway, *testDeps) {
	t.Helper()

	deps := &testDeps{
		binder:    newFakeBinder(map[string]string{"valid-token": "usr-1"}),
		directory: newFakeDirectory(nil),
		configs:   &fakeConfigs{},
		telemetry: &fakeTelemetry{},
		verifier: &fakeVerifier{identities: map[string]*auth.Identity{
			"user-jwt": {UserID: "usr-1", Username: "alice"},
		}},
	}

	cfg := config.GatewayConfig{
		Path:              "/ws",
		MaxMessageSize:    4096,
		AuthTimeout:       1,
		HeartbeatInterval: 1,
		WriteTimeout:      1,
	}

	gw := New(cfg, logging.Default(), deps.binder, deps.directory, deps.configs, deps.telemetry, deps.verifier)
	return gw, deps
}

// startConn attaches a fake wire to the gateway and runs its read loop.
func startConn(gw *Gateway) *fakeWire {
	w := newFakeWire()
	c := newConn(gw, w)
	go c.run(context.Background())
	return w
}

// authDevice runs a device_reconnect handshake for an already bound device
// and consumes the auth_success reply.
func authDevice(t *testing.T, gw *Gateway, deps *testDeps, hardwareID, ownerID string) *fakeWire {
	t.Helper()

	deps.directory.mu.Lock()
	deps.directory.owners[hardwareID] = ownerID
	deps.directory.mu.Unlock()

	w := startConn(gw)
	w.pushPayload(t, TypeDeviceReconnect, AuthPayload{UniqueHardwareID: hardwareID})
	if env := w.waitFrame(t); env.Type != TypeAuthSuccess {
		t.Fatalf("expected auth_success, got %q", env.Type)
	}
	return w
}

// authUser runs a user_auth handshake and consumes the auth_success reply.
func authUser(t *testing.T, gw *Gateway) *fakeWire {
	t.Helper()

	w := startConn(gw)
	w.pushPayload(t, TypeUserAuth, AuthPayload{Token: "user-jwt"})
	if env := w.waitFrame(t); env.Type != TypeAuthSuccess {
		t.Fatalf("expected auth_success, got %q", env.Type)
	}
	return w
}

// decodeState unpacks a StatePayload or fails the test.
func decodeState(t *testing.T, env Envelope) StatePayload {
	t.Helper()
	var p StatePayload
	if err := env.decode(&p); err != nil {
		t.Fatalf("decoding state payload: %v", err)
	}
	return p
}

// ensure binding.Store still satisfies the binder contract.
var _ DeviceBinder = (*binding.Store)(nil)
