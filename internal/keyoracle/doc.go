// Package keyoracle supplies protocol.KeyDerivationOracle implementations.
//
// The controller's key derivation is a proprietary transformation shipped
// by the vendor as a compiled module. waterctl does not reimplement it;
// instead it either looks the answer up in a table of captured vectors or
// asks an external helper program that wraps the vendor module.
//
// # Table File
//
//	vectors:
//	  - input: "00017363"   # nonce (2 bytes) + MAC suffix (2 bytes)
//	    key: "1B2C3D4E"     # raw oracle output, before the name mask
//
// # Helper Protocol
//
// The helper is started once per derivation. It receives the input as eight
// hex digits and a newline on stdin and must print the eight-hex-digit raw
// key on stdout.
package keyoracle
