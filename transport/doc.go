// Package transport moves encrypted envelopes between xchat nodes.
//
// The messaging core only needs a fire-and-forget send: there are no
// acknowledgements, and delivery is recovered by retransmission. Every
// implementation therefore satisfies the small Transmitter interface and
// hands received envelopes to a Handler.
//
// # Implementations
//
// UDP broadcasts each envelope as a single datagram to a configured
// broadcast address and listens on a local port:
//
//	udp, err := transport.NewUDP(":7741", "255.255.255.255:7741")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer udp.Close()
//	go udp.Listen(ctx, controller.HandleIncoming)
//
// Bus connects several nodes inside one process. It is used by tests and
// demos:
//
//	bus := transport.NewBus()
//	alice := bus.Subscribe(aliceController.HandleIncoming)
//	defer alice.Close()
//
// Both encode envelopes with envelope.Marshal, so plaintext can never reach
// the wire.
package transport
