// Package flows holds the ordered steps of the client's login and logout
// operations as pure functions over dependency structs.
//
// Each Run* function only sequences calls through its Deps; it owns no state
// and performs no I/O of its own, so every ordering rule can be tested with
// plain closures. The root package builds the Deps and maps results onto its
// error taxonomy.
//
// This package must not import storeauth.
package flows
