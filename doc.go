// Package authclient keeps a client's view of "who is signed in" consistent
// with the application profile stored behind the camp backend API.
//
// Session coordination:
//   - Coordinator subscribes to an IdentitySource and, on every sign-in or
//     sign-out transition, marks the session as loading, records the identity
//     and resolves the matching Profile in the background. Each transition
//     bumps a generation counter; a resolution that finishes after a newer
//     transition is discarded, so a profile is never attributed to the wrong
//     identity.
//   - State snapshots are published to listeners in increasing Version order.
//     WaitReady blocks until the session settles on Ready or LoggedOut.
//
// Backend access:
//   - Gateway performs one attempt per call, attaches the bearer credential,
//     JSON encodes structured bodies and turns non-2xx statuses, transport
//     failures and unparseable payloads into *RequestError values.
//   - ProfileResolver layers the profile endpoints on top of the Gateway. A
//     missing profile (404) is reported as nil, nil.
//
// Activity sinks:
//   - ActivitySink receives session events (identity changes, resolved or
//     unavailable profiles, stale results, failed sign up syncs). Sinks run
//     best-effort; errors are logged and never surface to callers.
//
// Identity sources live under provider/: identitytoolkit talks to the Google
// Identity Toolkit REST API, local is an in-process source minting HS256 JWTs.
package authclient
