// Package firebase implements storeauth.IdentityProvider over the Firebase
// Auth REST API.
//
// Password sign-in calls accounts:signInWithPassword. Interactive sign-in
// runs the Google authorization code flow with PKCE on a loopback redirect,
// then exchanges the Google id_token through accounts:signInWithIdp. ID
// tokens are cached and refreshed through the securetoken endpoint.
package firebase
