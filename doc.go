// Package storeauth is the authentication core of the storefront client. It
// reconciles an external identity provider with the backend's cookie session
// and turns the result into routing decisions for the shop and the admin
// back-office.
//
// A [Client] is assembled with [New] and owns three cooperating parts that
// share one [LogoutFlag]:
//
//   - [Gate] subscribes to identity-provider notifications, verifies each one
//     with the backend and exposes the reconciled [AuthStatus].
//   - [LoginOrchestrator] runs the password cascade and the interactive
//     sign-in, then updates the store and navigates to the role home.
//   - [Client.Logout] signs out of both sides and clears local state.
//
// # Architecture boundaries
//
// The identity provider, the backend API, the router and the state store are
// interfaces supplied by the caller. The backend package implements [Backend]
// over HTTP and idp/firebase implements [IdentityProvider] over the Firebase
// Auth REST API. Ordered flow steps live in internal/flows.
//
// # What this package must NOT do
//
//   - Take a role from the identity provider. Roles come from the backend only.
//   - Let a verification result for an older notification overwrite a newer one.
//   - Return raw provider or transport errors. Every failure is an [*AuthError].
//   - Log tokens, passwords or cookies.
package storeauth
