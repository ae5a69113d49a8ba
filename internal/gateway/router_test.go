package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDeviceStateForwardedToOwner(t *testing.T) {
	gw, deps := testGateway(t)
	user := authUser(t, gw)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")

	dev.pushPayload(t, TypeEndpointState, StatePayload{State: StateOn})

	env := user.waitFrame(t)
	if env.Type != TypeEndpointState {
		t.Fatalf("expected endpoint_state, got %q", env.Type)
	}
	p := decodeState(t, env)
	if p.UniqueHardwareID != "esp32-a1" || p.State != StateOn {
		t.Errorf("forwarded state = %+v", p)
	}
	user.expectNoFrame(t, 100*time.Millisecond)
}

func TestDeviceStateDroppedWhenOwnerOffline(t *testing.T) {
	gw, deps := testGateway(t)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")

	// No user connection: state updates are best-effort and vanish.
	dev.pushPayload(t, TypeEndpointState, StatePayload{State: StateOff})
	dev.expectNoFrame(t, 100*time.Millisecond)
}

func TestDataReportRecordsEachPresentReading(t *testing.T) {
	gw, deps := testGateway(t)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")

	dev.pushPayload(t, TypeDataReport, DataReportPayload{Sensor: &SensorReport{
		TempHumi: &TempHumiReading{Temperature: 21.5, Humidity: 40},
		PIR:      &PresenceReading{State: true},
		Sound:    &SoundReading{},
	}})

	waitFor(t, func() bool {
		deps.telemetry.mu.Lock()
		defer deps.telemetry.mu.Unlock()
		return deps.telemetry.tempHumis == 1 && len(deps.telemetry.presences) == 1 && deps.telemetry.sounds == 1
	})
}

func TestDataReportWithoutSensorIsIgnored(t *testing.T) {
	gw, deps := testGateway(t)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")

	dev.pushPayload(t, TypeDataReport, DataReportPayload{})
	dev.expectNoFrame(t, 100*time.Millisecond)
	if !gw.IsDeviceOnline("esp32-a1") {
		t.Error("empty data report killed the connection")
	}
}

func TestCommandForwardedAndAudited(t *testing.T) {
	gw, deps := testGateway(t)
	user := authUser(t, gw)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")

	cmd := json.RawMessage(`{"type":"switch","state":true,"custom":"survives"}`)
	user.pushPayload(t, TypeSetEndpointState, CommandPayload{UniqueHardwareID: "esp32-a1", Command: cmd})

	env := dev.waitFrame(t)
	if env.Type != TypeSetEndpointState {
		t.Fatalf("expected set_endpoint_state, got %q", env.Type)
	}
	var p CommandPayload
	if err := env.decode(&p); err != nil {
		t.Fatalf("decoding forwarded command: %v", err)
	}
	// Relay is verbatim: fields the gateway does not model must survive.
	var raw map[string]any
	if err := json.Unmarshal(p.Command, &raw); err != nil {
		t.Fatalf("forwarded command is not valid JSON: %v", err)
	}
	if raw["custom"] != "survives" {
		t.Errorf("opaque command field lost in relay: %v", raw)
	}

	log := deps.telemetry.commandLog()
	if len(log) != 1 || log[0].hardwareID != "esp32-a1" || log[0].userID != "usr-1" || log[0].state != StateOn {
		t.Errorf("audit log = %+v", log)
	}
}

func TestOfflineCommandDroppedButStillAudited(t *testing.T) {
	gw, deps := testGateway(t)
	deps.directory.owners["esp32-gone"] = "usr-1"
	user := authUser(t, gw)

	off := false
	cmd, _ := json.Marshal(Command{Type: "switch", State: &off})
	user.pushPayload(t, TypeSetEndpointState, CommandPayload{UniqueHardwareID: "esp32-gone", Command: cmd})

	// No acknowledgment, no error: the command just disappears.
	user.expectNoFrame(t, 150*time.Millisecond)

	log := deps.telemetry.commandLog()
	if len(log) != 1 || log[0].state != StateOff {
		t.Errorf("offline command not audited: %+v", log)
	}
}

func TestQueryAllBranchesPerDevice(t *testing.T) {
	gw, deps := testGateway(t)
	deps.directory.owners["esp32-off"] = "usr-1"
	user := authUser(t, gw)
	online := authDevice(t, gw, deps, "esp32-on", "usr-1")

	user.pushPayload(t, TypeQueryEndpointState, nil)

	// The online device is asked to answer for itself.
	env := online.waitFrame(t)
	if env.Type != TypeQueryEndpointState {
		t.Fatalf("online device got %q", env.Type)
	}
	var q QueryPayload
	if err := env.decode(&q); err != nil || q.UniqueHardwareID != "esp32-on" {
		t.Errorf("query payload = %+v (err %v)", q, err)
	}

	// The gateway answers for the offline device, once.
	reply := decodeState(t, user.waitFrame(t))
	if reply.UniqueHardwareID != "esp32-off" || reply.State != StateError {
		t.Errorf("synthesized reply = %+v", reply)
	}
	user.expectNoFrame(t, 150*time.Millisecond)
}

func TestQuerySingleOfflineDeviceSynthesizesError(t *testing.T) {
	gw, _ := testGateway(t)
	user := authUser(t, gw)

	user.pushPayload(t, TypeQueryEndpointState, QueryPayload{UniqueHardwareID: "esp32-gone"})

	reply := decodeState(t, user.waitFrame(t))
	if reply.UniqueHardwareID != "esp32-gone" || reply.State != StateError {
		t.Errorf("synthesized reply = %+v", reply)
	}
}

func TestUnhandledTypesAreNonFatalAfterAuth(t *testing.T) {
	gw, deps := testGateway(t)
	dev := authDevice(t, gw, deps, "esp32-a1", "usr-1")
	user := authUser(t, gw)

	dev.push(t, Envelope{Type: "firmware_gossip"})
	user.push(t, Envelope{Type: "mystery"})

	time.Sleep(100 * time.Millisecond)
	if dev.isClosed() || user.isClosed() {
		t.Error("unhandled post-auth frame closed a connection")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
