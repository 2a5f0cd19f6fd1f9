// Package server exposes the mail service over HTTP.
//
// # Key Components
//
// ServerContext carries the application service and the shutdown state
// shared by the HTTP routes, the MCP tools and the background sync loop.
//
// HTTPServer mounts the API on a gin router:
//   - GET  /auth/:provider/url?user_id=         start a connect flow
//   - GET  /oauth-callback/:provider            finish it
//   - GET  /users/:user_id/accounts             list connected mailboxes
//   - POST /users/:user_id/sync                 sync all active accounts
//   - POST /users/:user_id/accounts/:id/sync    sync one account
//   - POST /users/:user_id/accounts/:id/send    send a message
//   - DELETE /users/:user_id/accounts/:id       disconnect an account
//   - GET  /users/:user_id/messages             query stored messages
//   - GET  /users/:user_id/sync/status          per-folder counts
//
// Sync endpoints answer 200 with the partial SyncResult even when accounts
// failed. An account that must be reconnected yields 401 with
// {"error":"reconnect_required"}.
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed, and
// MetricsServer exposes Prometheus metrics on a separate port.
package server
