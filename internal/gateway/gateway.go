package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/emberhome/ember-gateway/internal/auth"
	"github.com/emberhome/ember-gateway/internal/device"
	"github.com/emberhome/ember-gateway/internal/infrastructure/config"
	"github.com/emberhome/ember-gateway/internal/infrastructure/logging"
	"github.com/emberhome/ember-gateway/internal/infrastructure/mqtt"
	"github.com/emberhome/ember-gateway/internal/telemetry"
)

// ErrDeviceOffline is returned when a relay target has no live connection.
var ErrDeviceOffline = errors.New("gateway: device not connected")

// DeviceBinder consumes a one-time binding token and upserts the device
// row, atomically. A used or expired token must never bind.
type DeviceBinder interface {
	BindDevice(ctx context.Context, token, hardwareID, defaultAlias string) (string, error)
}

// DeviceDirectory resolves device ownership.
type DeviceDirectory interface {
	FindOwner(ctx context.Context, hardwareID string) (string, error)
	ListDevices(ctx context.Context, ownerID string) ([]string, error)
}

// ConfigReader fetches the configuration snapshot sent to reconnecting
// devices. A nil snapshot with nil error means no configuration exists.
type ConfigReader interface {
	GetConfig(ctx context.Context, hardwareID string) (*device.ConfigSnapshot, error)
}

// TokenVerifier validates user bearer tokens. Stateless; no I/O.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Gateway owns the connection registry and wires the handshake and router
// to their collaborators. One Gateway per process; the registry assumes it
// is the sole authority over live connections.
type Gateway struct {
	cfg      config.GatewayConfig
	logger   *logging.Logger
	registry *Registry

	binder    DeviceBinder
	directory DeviceDirectory
	configs   ConfigReader
	telemetry telemetry.Store
	verifier  TokenVerifier

	// broker is the optional MQTT fan-out; nil when the bridge is disabled.
	broker *mqtt.Client
}

// upgrader configures the WebSocket upgrader. Origin checking is handled
// by the CORS middleware in front of the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// New creates a Gateway around its collaborators.
func New(
	cfg config.GatewayConfig,
	logger *logging.Logger,
	binder DeviceBinder,
	directory DeviceDirectory,
	configs ConfigReader,
	store telemetry.Store,
	verifier TokenVerifier,
) *Gateway {
	return &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "gateway"),
		registry:  NewRegistry(),
		binder:    binder,
		directory: directory,
		configs:   configs,
		telemetry: store,
		verifier:  verifier,
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and starts
// its read loop. The connection starts unauthenticated with the auth
// deadline armed; everything else follows from the frames it sends.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	g.logger.Debug("client connected", "remote_addr", r.RemoteAddr)

	c := newConn(g, ws)
	// The connection outlives the HTTP handler; collaborator calls are
	// scoped per frame, not to the upgrade request.
	go c.run(context.Background())
}

// SendConfig relays an opaque configuration payload to a connected device
// as a set_config frame. The payload is produced elsewhere (REST layer,
// automation predictor) and not interpreted here.
func (g *Gateway) SendConfig(hardwareID string, payload json.RawMessage) error {
	c, ok := g.registry.Device(hardwareID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceOffline, hardwareID)
	}
	return c.send(TypeSetConfig, payload, "")
}

// IsDeviceOnline reports whether a device currently holds a registered
// connection.
func (g *Gateway) IsDeviceOnline(hardwareID string) bool {
	_, ok := g.registry.Device(hardwareID)
	return ok
}

// Status describes the live connection population.
type Status struct {
	ActiveConnections int      `json:"activeConnections"`
	ConnectedDevices  []string `json:"connectedDevices"`
	ConnectedUsers    int      `json:"connectedUsers"`
}

// Status returns a snapshot of the registry for the status endpoint.
func (g *Gateway) Status() Status {
	devices, users := g.registry.Counts()
	return Status{
		ActiveConnections: devices + users,
		ConnectedDevices:  g.registry.DeviceIDs(),
		ConnectedUsers:    users,
	}
}

// Shutdown terminates every registered connection. Pending connections
// are collected by their own auth deadlines.
func (g *Gateway) Shutdown() {
	for _, c := range g.registry.snapshot() {
		c.Terminate()
	}
}

// notifyDeviceDown tells a device's owner that the device went away
// ungracefully, via a synthesized error state. This is the sole channel by
// which a user learns of an unclean device departure.
func (g *Gateway) notifyDeviceDown(hardwareID, ownerID string) {
	userConn, ok := g.registry.User(ownerID)
	if !ok {
		g.logger.Debug("owner not connected, cannot notify device disconnection", "hardware_id", hardwareID, "user_id", ownerID)
		return
	}
	payload := StatePayload{UniqueHardwareID: hardwareID, State: StateError}
	if err := userConn.send(TypeEndpointState, payload, ""); err != nil {
		g.logger.Warn("notifying device disconnection failed", "hardware_id", hardwareID, "error", err)
	}
}

// AttachBroker connects the optional MQTT fan-out: endpoint states and
// presence events go out to the broker, and commands published on
// ember/command/{hardwareID} are relayed to the device as if a user had
// sent them (minus the audit trail, which is keyed to a user identity).
func (g *Gateway) AttachBroker(broker *mqtt.Client) error {
	g.broker = broker

	return broker.Subscribe(mqtt.Topics{}.AllDeviceCommands(), byte(1), func(topic string, payload []byte) error {
		hardwareID := mqtt.HardwareIDFromTopic(topic)
		if hardwareID == "" || !json.Valid(payload) {
			g.logger.Warn("ignoring malformed broker command", "topic", topic)
			return nil
		}

		c, ok := g.registry.Device(hardwareID)
		if !ok {
			g.logger.Debug("device not connected, dropping broker command", "hardware_id", hardwareID)
			return nil
		}
		forward := CommandPayload{UniqueHardwareID: hardwareID, Command: payload}
		return c.send(TypeSetEndpointState, forward, "")
	})
}

// publishState mirrors a device's reported state to the broker, retained
// so late subscribers see the current value.
func (g *Gateway) publishState(hardwareID, state string) {
	if g.broker == nil {
		return
	}
	payload := fmt.Sprintf(`{"uniqueHardwareId":%q,"state":%q}`, hardwareID, state)
	if err := g.broker.PublishRetained(mqtt.Topics{}.DeviceState(hardwareID), []byte(payload)); err != nil {
		g.logger.Warn("publishing state to broker failed", "hardware_id", hardwareID, "error", err)
	}
}

// publishPresence mirrors a presence-sensor event to the broker.
func (g *Gateway) publishPresence(hardwareID, sensor string, detected bool) {
	if g.broker == nil {
		return
	}
	payload := fmt.Sprintf(`{"uniqueHardwareId":%q,"sensor":%q,"detected":%t}`, hardwareID, sensor, detected)
	if err := g.broker.PublishEvent(mqtt.Topics{}.DevicePresence(hardwareID), []byte(payload)); err != nil {
		g.logger.Warn("publishing presence to broker failed", "hardware_id", hardwareID, "error", err)
	}
}
