// Package api implements the HTTP ingestion API and WebSocket server for
// the home gateway.
//
// This package provides:
//   - Webhook relay of device messages into the event dispatcher
//   - Alarm-time and reminder ingestion
//   - Asynchronous workflow execution triggers
//   - Read-only views of device state history and supervisor status
//   - WebSocket hub fanning out state transitions and notifications
//
// # Security
//
// Every route under /api/v1 and the WebSocket endpoint pass through the
// webhook authenticator. A request is accepted when its source address is
// on the configured allowlist, when it carries an X-Webhook-Secret that
// matches the stored Argon2id hash, or when it presents an HS256 bearer
// token. Anything else receives 401 and is never forwarded.
//
// # Delivery
//
// Ingestion is accept-and-forget: a 202 means the message reached the
// runtime, not that it was processed. A 500 means the target actor could
// not be reached, typically because it is being restarted.
package api
