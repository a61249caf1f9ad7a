// Package auth is the authentication and session-trust core of the gym
// membership application: token issuance/verification, role gating and the
// request authentication pipeline every protected route depends on.
//
// Tokens:
//   - TokenService signs and verifies HS256 JWTs carrying user_id, email, role,
//     iat, exp and kind claims. Access and refresh tokens are never
//     interchangeable. Verification checks the signature, then claim
//     completeness, then expiry, and fails fast with a go-errors *Error
//     whose category decides the HTTP status.
//   - Tokens are stateless. There is no registry, so a token stays valid until
//     its natural expiry even after logout.
//
// Gate:
//   - Gate.Resolve runs the fixed discovery order: session entry first, then a
//     bearer token from the Authorization header, the token cookie or the token
//     query parameter. Identities are always re-read from the CredentialStore
//     and expired members are downgraded to non_member before the identity
//     leaves the gate.
//   - Gate.Prepare clears the session cache once per process. Call it during
//     startup, before the listener accepts requests.
//
// Guards:
//   - RequireRole and the AdminOnly, MemberAccess and TrainerOnly guards are
//     pure functions of an already resolved Identity. They never inspect tokens.
//
// Accounts:
//   - Auther implements login, registration, token refresh, logout and the
//     admin role update on top of a UserStore, the TokenService and the Gate.
//   - NewUsersRepository is the bun backed UserStore for sqlite or postgres.
//     Wrap it in a RetryStore before handing it to the Gate.
//
// HTTP:
//   - RouteAuthenticator.Protect adapts the gate to fiber and hands the
//     resolved Identity to an IdentityHandler as an explicit argument.
//     Failures are rendered as {"error": "..."} JSON for API requests or as a
//     redirect to the login page for browser requests.
package auth
