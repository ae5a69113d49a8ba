package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhome/ember-gateway/internal/infrastructure/logging"
)

// identityClass is the post-handshake classification of a connection.
type identityClass int

const (
	identityPending identityClass = iota
	identityDevice
	identityUser
)

// wire is the slice of *websocket.Conn the connection logic needs.
// Tests substitute an in-memory implementation.
type wire interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one live WebSocket connection. It is created unauthenticated
// with an armed auth-deadline timer; a successful handshake sets its
// identity exactly once, registers it, and swaps the deadline timer for a
// heartbeat supervisor. Frames are processed strictly sequentially by the
// read loop.
type Conn struct {
	gw     *Gateway
	ws     wire
	logger *logging.Logger

	// writeMu serializes outbound frames, including control frames sent
	// from the heartbeat goroutine.
	writeMu sync.Mutex

	// mu guards identity, liveness, and timer state.
	mu         sync.Mutex
	class      identityClass
	hardwareID string // device connections
	ownerID    string // device connections: owning user
	userID     string // user connections
	alive      bool
	closed     bool
	authTimer  *time.Timer
	hbStop     chan struct{} // non-nil once the heartbeat is attached
}

func newConn(gw *Gateway, ws wire) *Conn {
	c := &Conn{gw: gw, ws: ws, logger: gw.logger}

	ws.SetReadLimit(int64(gw.cfg.MaxMessageSize))
	ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	// If the client does not authenticate within the deadline, drop it.
	c.mu.Lock()
	c.authTimer = time.AfterFunc(gw.cfg.GetAuthTimeout(), c.authDeadline)
	c.mu.Unlock()

	return c
}

// run reads frames until the socket fails, then tears the connection down.
// It is the only goroutine that processes inbound frames, which gives each
// connection strictly sequential message handling.
func (c *Conn) run(ctx context.Context) {
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

// handleFrame parses one frame and dispatches it by identity class.
func (c *Conn) handleFrame(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.logger.Warn("received invalid message format, closing")
		c.Close()
		return
	}

	switch c.identity() {
	case identityPending:
		c.handleAuthFrame(ctx, env)
	case identityDevice:
		c.handleDeviceFrame(ctx, env)
	case identityUser:
		c.handleUserFrame(ctx, env)
	}
}

func (c *Conn) identity() identityClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

// HardwareID returns the device hardware ID, or "" for non-device
// connections.
func (c *Conn) HardwareID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hardwareID
}

// promoteDevice sets the connection's identity to Device, cancels the auth
// deadline, registers it, and attaches the heartbeat. Returns false if the
// connection was already promoted or closed; identity is write-once.
func (c *Conn) promoteDevice(hardwareID, ownerID string) bool {
	if !c.promote(identityDevice, func() {
		c.hardwareID = hardwareID
		c.ownerID = ownerID
	}) {
		return false
	}
	c.gw.registry.RegisterDevice(hardwareID, c)
	c.attachHeartbeat()
	return true
}

// promoteUser is the user-identity counterpart of promoteDevice.
func (c *Conn) promoteUser(userID string) bool {
	if !c.promote(identityUser, func() {
		c.userID = userID
	}) {
		return false
	}
	c.gw.registry.RegisterUser(userID, c)
	c.attachHeartbeat()
	return true
}

func (c *Conn) promote(class identityClass, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.class != identityPending || c.closed {
		return false
	}
	c.class = class
	set()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	return true
}

// authDeadline fires when the auth timer expires. The identity check
// guards against killing a connection that authenticated in the same tick.
func (c *Conn) authDeadline() {
	c.mu.Lock()
	pending := c.class == identityPending && !c.closed
	c.mu.Unlock()

	if pending {
		c.logger.Info("client failed to authenticate in time, closing")
		c.Terminate()
	}
}

// attachHeartbeat starts the liveness supervisor for an authenticated
// connection. Each interval: a connection that has not produced a pong
// since the previous probe is terminated; otherwise the liveness flag is
// cleared and a new ping goes out.
func (c *Conn) attachHeartbeat() {
	stop := make(chan struct{})

	c.mu.Lock()
	c.alive = true
	c.hbStop = stop
	c.mu.Unlock()

	go c.heartbeatLoop(stop)
}

func (c *Conn) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.gw.cfg.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			alive := c.alive
			c.alive = false
			c.mu.Unlock()

			if !alive {
				c.logger.Info("heartbeat missed, terminating connection")
				c.Terminate()
				return
			}
			c.ping()
		}
	}
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// send marshals and writes one frame. payload may be nil.
func (c *Conn) send(msgType string, payload any, message string) error {
	env, err := envelope(msgType, payload, message)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.GetWriteTimeout())) //nolint:errcheck // best-effort write deadline
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) ping() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.GetWriteTimeout())) //nolint:errcheck // best-effort write deadline
	c.ws.WriteMessage(websocket.PingMessage, nil)                     //nolint:errcheck // ping is best-effort
}

// Close drops the connection with a close frame. Used when the peer
// misbehaved but is still worth a clean goodbye (malformed frames, failed
// auth). Registry cleanup happens in teardown once the read loop exits.
func (c *Conn) Close() {
	c.stopTimers()

	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort close
	c.writeMu.Unlock()

	c.ws.Close() //nolint:errcheck // best-effort close
}

// Terminate forcibly drops the connection without a close frame. Used for
// unresponsive or superseded sockets.
func (c *Conn) Terminate() {
	c.stopTimers()
	c.ws.Close() //nolint:errcheck // best-effort close
}

// stopTimers releases both timer resources. Safe to call repeatedly; every
// terminal path must come through here so no timer outlives its
// connection.
func (c *Conn) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

// teardown runs exactly once when the read loop exits. It cancels timers,
// evicts the registry entry (compare-and-delete, so a superseded
// connection never removes its replacement), and notifies the owning user
// when a registered device goes away.
func (c *Conn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	class := c.class
	hardwareID := c.hardwareID
	ownerID := c.ownerID
	userID := c.userID
	c.mu.Unlock()

	c.stopTimers()
	c.ws.Close() //nolint:errcheck // best-effort close

	switch class {
	case identityDevice:
		if c.gw.registry.UnregisterDevice(hardwareID, c) {
			c.logger.Info("device disconnected", "hardware_id", hardwareID)
			c.gw.notifyDeviceDown(hardwareID, ownerID)
		} else {
			c.logger.Debug("stale device connection closed", "hardware_id", hardwareID)
		}
	case identityUser:
		if c.gw.registry.UnregisterUser(userID, c) {
			c.logger.Info("user disconnected", "user_id", userID)
		} else {
			c.logger.Debug("stale user connection closed", "user_id", userID)
		}
	default:
		c.logger.Debug("unauthenticated client disconnected")
	}
}
