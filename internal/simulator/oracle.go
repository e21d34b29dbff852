package simulator

import (
	"context"

	"github.com/waterctl/waterctl/internal/protocol"
)

// loopbackPad is mixed into every block by LoopbackOracle
var loopbackPad = [4]byte{0x5A, 0xA5, 0x3C, 0xC3}

// LoopbackOracle stands in for the vendor key derivation when both the
// session and the controller are simulated. It is not the real algorithm.
var LoopbackOracle protocol.KeyDerivationOracle = protocol.OracleFunc(loopback)

func loopback(_ context.Context, block [4]byte) ([4]byte, error) {
	var out [4]byte
	for i := range block {
		out[i] = block[i] ^ loopbackPad[i]
	}
	return out, nil
}
