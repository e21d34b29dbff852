// Package simulator provides an in-process water controller that speaks the
// session protocol over the transport.Transport interface.
//
// The simulated firmware reproduces the quirks seen on real controllers:
//
//   - notifications that lose one or two leading bytes on the air
//   - the same notification delivered more than once
//   - "AT+" modem chatter leaking onto the notify characteristic
//   - legacy firmware answering the prologue with B0/B1, newer firmware
//     answering with an AE key challenge
//   - a configurable AF key-result status and a C8 refusal
//
// It backs the session tests, the bridge tests and "waterctl simulate".
//
// # Usage
//
//	ctrl := simulator.New(simulator.Config{
//		Name:    "Water36088",
//		Address: "6D:6C:00:02:73:63",
//		KeyAuth: true,
//		Oracle:  oracle,
//	})
//	sess := session.New(cfg, ctrl, oracle)
package simulator
