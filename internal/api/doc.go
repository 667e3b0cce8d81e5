// Package api hosts the HTTP server, middleware and handlers of the gateway.
// Cross-origin requests are allowed for any origin unless WithAllowedOrigins narrows them.
// Routes:
//   - GET /health and GET /metrics, unauthenticated.
//   - GET /auth/validate-key and GET /auth/request-key.
//   - POST /crawl, /markdown and /advanced, keyed by the X-API-Key header.
package api
