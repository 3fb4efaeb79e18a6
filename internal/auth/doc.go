// Package auth resolves who an API request acts for.
//
// # Tokens
//
// Callers present HS256 JWTs signed with auth.jwt_secret:
//
//   - sub: the user id
//   - name: display name (optional)
//   - kind: "user" (default) or "bridge"
//
// A user token always acts for its subject. A bridge token (issued to the
// Slack or Matrix bridge) acts for whichever user the X-Acting-User header
// names; the bridge's own subject is kept in Identity.Via for logging.
//
// Tokens may also arrive in the access_token query parameter, since browsers
// cannot set headers on EventSource connections.
//
// # Development Mode
//
// Without a secret no tokens are checked and X-Acting-User (or ?user= for
// browsers) alone selects the user. Never expose a development-mode server beyond localhost.
//
// # Minting
//
//	tubeagent token --user alice --name "Alice"
//	tubeagent token --user matrix-bridge --kind bridge
package auth
