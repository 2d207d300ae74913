// Package relay implements the relay core: the privileged component that
// owns the backend gateway, tracks backend readiness, waits for readiness
// before each call, applies the optional payload envelope and adopts the
// session key issued by a successful load.
//
// Readiness is established by a single probe loop (fixed 500 ms spacing,
// stopped only by Close). A call that finds the backend not ready re-checks
// up to 10 times at 1 s spacing, then fails with
// protocol.ErrBackendUnavailable. Any transport failure resets readiness to
// disconnected and drops the session key.
package relay
