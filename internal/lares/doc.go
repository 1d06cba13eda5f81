// Package lares implements the websocket protocol client for Ksenia Lares
// 4.0 security and building-automation panels.
//
// The panel speaks JSON text frames over a websocket with the KS_WSOCK
// sub-protocol. Every frame is an envelope with a fixed field order and a
// trailing CRC-16 checksum computed over a prefix of the serialised bytes.
// After authenticating with the configured PIN, the client issues a fixed
// discovery sweep (zones, outputs, bus sensors, scenarios, then their
// statuses) and registers for realtime change notifications.
//
// # Architecture
//
//	┌─────────────────┐            ┌─────────────────┐
//	│  Lares Bridge   │   records  │  Protocol Client│  KS_WSOCK
//	│ (device, mqtt)  │◄──────────►│   (this pkg)    │◄─────────► Panel
//	└─────────────────┘            └─────────────────┘
//
// # Key Responsibilities
//
//   - Dial the panel over wss:// with its legacy TLS profile
//   - Authenticate and hold the session token for the socket's lifetime
//   - Run the discovery sweep once per successful login
//   - Decode realtime change frames into typed status records
//   - Serialise user commands with injected session credentials
//   - Detect dead connections with transport pings and reconnect with
//     jittered exponential backoff
//
// The client never interprets device semantics. Decoded discovery and
// status records are handed to a Sink (implemented by the device registry)
// which owns the device model.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Outbound frames
// serialise through a single write mutex; inbound frames are processed
// sequentially by one read loop in transport delivery order.
package lares
