// Package gateway assembles and runs the tubeagent server.
//
// # Overview
//
// New opens the SQLite store and builds, in order, the session store, the
// video job tracker and its poller, the conversation orchestrator, and the
// HTTP server. Run starts the poller (after re-attaching to jobs left active
// by a previous run) and serves until its context is canceled.
//
// # HTTP API
//
// All /api routes act for the identity resolved by auth.Middleware:
//
//	POST /api/chat                {text, display_name?, surface?, channel?}
//	GET  /api/session             turns and job ids
//	GET  /api/jobs                jobs and stats (?limit=N)
//	GET  /api/jobs/{id}           one job; 404 for other users' jobs
//	POST /api/jobs/{id}/refresh   poll the backend now
//	GET  /api/events              server-sent job events
//
// Storage failures map to 503 and missing records to 404.
//
// # Other Routes
//
//	GET  /                dashboard (when dashboard.enabled)
//	POST /slack/events    Slack Events API (when frontends.slack.enabled)
//	GET  /health          liveness
//	GET  /health/ready    database reachability
//	GET  /metrics         Prometheus metrics (when metrics.enabled)
package gateway
