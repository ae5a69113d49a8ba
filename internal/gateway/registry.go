package gateway

import "sync"

// Registry is the authoritative mapping from identity to live connection.
// It holds two independent keyspaces, one for devices (by hardware ID) and
// one for users (by user ID), and enforces at most one registered
// connection per key at any instant.
//
// A connection object may exist without being reachable from the registry:
// it is either not yet authenticated or has been superseded. Superseded
// connections are forcibly terminated, never gracefully closed, on the
// assumption they are unresponsive or stale.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Conn
	users   map[string]*Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Conn),
		users:   make(map[string]*Conn),
	}
}

// RegisterDevice installs conn as the live connection for hardwareID.
// An existing registration under the same key is terminated: identity
// ownership always moves to the newest successfully authenticated
// connection.
func (r *Registry) RegisterDevice(hardwareID string, conn *Conn) {
	r.register(r.devices, hardwareID, conn)
}

// RegisterUser installs conn as the live connection for userID, with the
// same supersede rule as RegisterDevice.
func (r *Registry) RegisterUser(userID string, conn *Conn) {
	r.register(r.users, userID, conn)
}

func (r *Registry) register(m map[string]*Conn, key string, conn *Conn) {
	r.mu.Lock()
	old := m[key]
	m[key] = conn
	r.mu.Unlock()

	// Terminate outside the lock: teardown of the old connection will call
	// back into Unregister*.
	if old != nil && old != conn {
		old.logger.Info("stale connection superseded, terminating", "key", key)
		old.Terminate()
	}
}

// UnregisterDevice removes the entry for hardwareID only if it currently
// holds exactly conn, and reports whether an entry was removed. The
// compare-and-delete guards against an old connection's delayed close
// handler evicting a newer connection that already replaced it.
func (r *Registry) UnregisterDevice(hardwareID string, conn *Conn) bool {
	return r.unregister(r.devices, hardwareID, conn)
}

// UnregisterUser is the user-keyspace counterpart of UnregisterDevice.
func (r *Registry) UnregisterUser(userID string, conn *Conn) bool {
	return r.unregister(r.users, userID, conn)
}

func (r *Registry) unregister(m map[string]*Conn, key string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m[key] != conn {
		return false
	}
	delete(m, key)
	return true
}

// Device returns the registered connection for hardwareID, if any.
func (r *Registry) Device(hardwareID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.devices[hardwareID]
	return c, ok
}

// User returns the registered connection for userID, if any.
func (r *Registry) User(userID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.users[userID]
	return c, ok
}

// DeviceIDs returns the hardware IDs of all registered devices.
func (r *Registry) DeviceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// Counts returns the number of registered device and user connections.
func (r *Registry) Counts() (devices, users int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices), len(r.users)
}

// snapshot returns every registered connection. Used for shutdown.
func (r *Registry) snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.devices)+len(r.users))
	for _, c := range r.devices {
		conns = append(conns, c)
	}
	for _, c := range r.users {
		conns = append(conns, c)
	}
	return conns
}
