package protocol

import (
	"context"
	"fmt"
)

// KeyDerivationOracle turns the 4-byte unlock block (2 nonce bytes followed by
// the last 2 bytes of the controller's MAC address) into 4 raw key bytes.
//
// The mapping is a fixed proprietary transformation shipped by the vendor as
// a compiled module. It is treated as a black box; see package keyoracle for
// implementations.
type KeyDerivationOracle interface {
	DeriveKey(ctx context.Context, block [4]byte) ([4]byte, error)
}

// OracleFunc adapts a plain function to KeyDerivationOracle
type OracleFunc func(ctx context.Context, block [4]byte) ([4]byte, error)

// DeriveKey implements KeyDerivationOracle
func (f OracleFunc) DeriveKey(ctx context.Context, block [4]byte) ([4]byte, error) {
	return f(ctx, block)
}

// NameMask builds the key mask from the last four characters of the device
// name, each mapped to charCode - 0x30. Results wrap modulo 256.
func NameMask(deviceName string) ([4]byte, error) {
	var mask [4]byte
	units := []rune(deviceName)
	if len(units) < 4 {
		return mask, fmt.Errorf("device name %q too short for key mask (need 4 characters)", deviceName)
	}
	for i, r := range units[len(units)-4:] {
		mask[i] = byte(r - 0x30)
	}
	return mask, nil
}

// MixKey XORs the raw oracle output with the name mask
func MixKey(raw, mask [4]byte) [4]byte {
	var key [4]byte
	for i := range key {
		key[i] = raw[i] ^ mask[i]
	}
	return key
}

// NextNonce returns the nonce the controller expects back. The firmware wraps
// 0xFFFF to 0x0100, not 0x0000, and the reply has to match it.
func NextNonce(nonce uint16) uint16 {
	if nonce == 0xFFFF {
		return 0x0100
	}
	return nonce + 1
}

// UnlockKey runs the full key pipeline for an unlock request: the oracle on
// nonce+MAC, then the device-name mask.
func UnlockKey(ctx context.Context, oracle KeyDerivationOracle, req *UnlockRequest, deviceName string) ([4]byte, error) {
	if oracle == nil {
		return [4]byte{}, fmt.Errorf("no key derivation oracle configured")
	}
	mask, err := NameMask(deviceName)
	if err != nil {
		return [4]byte{}, err
	}
	raw, err := oracle.DeriveKey(ctx, req.OracleBlock())
	if err != nil {
		return [4]byte{}, fmt.Errorf("key derivation failed: %w", err)
	}
	return MixKey(raw, mask), nil
}
