// Package backend is a development backend that implements the relay's
// backend wire contract over HTTP, websocket and native-messaging stdio.
//
// It checks the personal token against a bcrypt hash, opens either secure
// envelope shape with the newest issued session key or the static key, and
// verifies the magic number. A successful load issues a fresh session key
// in the reply message. Failed requests are answered with HTTP 400.
package backend
