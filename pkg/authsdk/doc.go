// Package authsdk is the client-side session engine for the demo
// OAuth2/JWT backend: it acquires, stores, validates and silently
// renews access/refresh token pairs, including the PKCE authorization
// code flow.
//
// The package is organised around four collaborators, constructed
// together by NewClient:
//
//   - TokenStore holds the current token pair, session metadata and
//     user, persists them to a keyring.Store, and converges with other
//     client instances through a shared keyring.Broadcaster.
//   - RefreshCoordinator owns the refresh protocol: it schedules a
//     proactive refresh ahead of expiry and coalesces concurrent
//     refresh calls into a single network round-trip.
//   - Client wraps outbound requests with bearer injection and a
//     single refresh-then-retry cycle on 401.
//   - The PKCE flow (BeginAuthorization / ExchangeCode) binds an
//     authorization code to this client via pkg/pkce.
//
// There is no package-level singleton: construct one Client per
// session and pass it to whatever needs it.
//
// SECURITY: token introspection in this package (expiry tracking,
// claim checks via pkg/jwtx) never verifies signatures. It informs the
// client's own behaviour only; the backend is the trust boundary.
package authsdk
