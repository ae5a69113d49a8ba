// Package mqtt wraps paho.mqtt.golang for the optional broker bridge.
//
// The gateway publishes device state and presence events to the broker so
// external systems (dashboards, rule engines) can observe the fleet without
// holding a WebSocket session, and subscribes to a command topic so those
// systems can drive endpoints. The bridge is optional: when disabled in
// config the gateway runs entirely without a broker.
//
// Connection management, auto-reconnect, and subscription restoration are
// handled internally; callers publish and subscribe through the Client.
package mqtt
