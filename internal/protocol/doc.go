// Package protocol defines the message envelopes, error taxonomy and
// correlation primitives shared by every hop of the relay chain.
//
// A request crosses up to four hops (stub, bridge, relay, gateway). Each hop
// that issues a correlation id owns a Pending table keyed by that id. A call
// is settled exactly once: by the first matching response, by its deadline,
// or by a channel-wide rejection when the transport drops.
//
// Example Usage:
//
//	table := protocol.NewPending[*gateway.Reply](clock.New())
//	call, err := table.Add(reqID, 5*time.Second)
//	...
//	reply, err := call.Wait(ctx)
package protocol
