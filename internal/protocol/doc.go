// Package protocol implements the water controller's byte protocol.
//
// The controller exposes a GATT service (0000f1f0-...) with a write
// characteristic (TXD, f1f1) and a notify characteristic (RXD, f1f2). Every
// frame is a short byte string starting with a lead and a 0x09 marker:
//   - Inbound frames start FD FD 09, then the type byte
//   - Outbound frames start FE FE 09, then the type byte
//
// # Firmware Quirks
//
// The controller's radio stack is unreliable and this package corrects it:
//   - One or two leading FD bytes may be missing
//   - The radio module's own AT commands ("AT+STAS?") leak onto RXD
//   - Single-byte FD notifications arrive between frames
//
// Normalize restores truncated frames and reports Ignore or Incomplete for
// noise.
//
// # Key Authentication
//
// Newer firmware answers the start prologue with an AE key challenge instead
// of B0/B1. The reply embeds a key derived by a proprietary transformation of
// nonce and MAC (see KeyDerivationOracle), masked with the device name, and a
// ChecksumB byte.
//
// # Usage Example - Handling a Challenge
//
//	outcome, pkt, err := protocol.Normalize(raw)
//	if err != nil || outcome != protocol.Decoded {
//	    return err
//	}
//	if pkt.Type == protocol.TypeKeyChallenge {
//	    req, err := protocol.ParseUnlockRequest(pkt)
//	    if err != nil {
//	        return err
//	    }
//	    key, err := protocol.UnlockKey(ctx, oracle, req, "Water36088")
//	    if err != nil {
//	        return err
//	    }
//	    reply := protocol.BuildUnlockResponse(req, key)
//	    // write reply to TXD
//	}
package protocol
