// Package auth implements password and JWT session authentication for
// fiber services.
//
// Accounts:
//   - Registry validates and sanitizes registrations, stores users through
//     bun, and keeps email, username and phone number unique. Credentials
//     are bcrypt hashed on a bounded worker pool by CredentialStore.
//
// Tokens:
//   - TokenIssuer signs access, refresh and confirm tokens with a kid
//     based KeyRing. ClaimsProvider adds extension claims while the
//     registered claims stay immutable.
//   - Logout writes the jti to a RevocationLedger (SQL or Redis) and every
//     verification consults it. A ledger that cannot answer counts as
//     revoked.
//
// Sessions:
//   - SessionMiddleware authenticates requests with the jwtware state
//     machine and slides the session forward with a fresh access token
//     when the current one is close to expiry.
//
// Activity sinks:
//   - ActivitySink receives login, logout, refresh and account events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
package auth
