// Package gateway implements the transports between the relay core and the
// backend process.
//
// Two strategies share the Gateway contract:
//   - HTTPGateway: one POST per call to http://host:port/contextRoot, with
//     the personal token in the X-OPLauncher-Token header.
//   - DuplexGateway: a persistent Link, either a native-messaging host
//     spoken to over stdio (NativeDialer) or a websocket (WebsocketDialer).
//
// Gateways never retry. A call either gets the backend Reply, a
// *protocol.RemoteError via Reply.Err, or a transport error.
package gateway
