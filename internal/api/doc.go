// Package api implements the HTTP REST API and WebSocket server for Play Relay.
//
// This package provides:
//   - POST command endpoints (/play, /volume, /seek-forward, ...) that feed
//     the relay broadcaster
//   - GET /state, GET /health and GET /metrics
//   - key administration under /admin/keys, plus /admin/sessions and /admin/audit
//   - the WebSocket session channel (default /ws)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, API key auth)
//
// # Architecture
//
// Player pages and dashboards hold a WebSocket session each. Every session is
// registered in the session registry with its WSClient as delivery sink, so a
// broadcast from any source (REST, WebSocket, MQTT) reaches all of them.
//
// # Security
//
// Protected routes take a static API key in X-API-Key or as a Bearer token.
// Keys are re-read on every request. Repeated failures from one IP are
// blocked for security.rate_limit.block_seconds. While no key exists,
// POST /admin/keys is accepted from loopback so the first key can be minted.
// WebSocket sessions are not authenticated; they are trusted surfaces.
package api
