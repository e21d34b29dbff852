package protocol

// Both controller checksums are reflected CRC-16 runs with the 0xA001 XOR
// constant (bit-reversed 0x8005). They differ only in their initial register
// and post-processing.
const (
	crcXor = 0xA001

	// checksumAInit is the register seed for the device-name checksum
	// (CRC-16/ChangGong: poly 0x8005, init 0xE808 reflected, no xorout).
	checksumAInit = 0x1017

	// checksumBInit is the register seed for the AE/AF checksum
	// (poly 0x8005, init 0xF856 reflected, xorout 0x75, truncated to 8 bits).
	checksumBInit = 0x6A1F
	checksumBOut  = 0x75
)

// crcStep folds one input value into the register, eight shifts at a time
func crcStep(crc uint16, v uint16) uint16 {
	crc ^= v
	for i := 0; i < 8; i++ {
		if crc&0x0001 == 1 {
			crc >>= 1
			crc ^= crcXor
		} else {
			crc >>= 1
		}
	}
	return crc
}

// ChecksumA computes the device-name checksum carried in the start epilogue.
// Callers split the result into low and high bytes.
//
// Each UTF-16 code unit is XORed into the register, which matches how the
// firmware's companion app feeds the name. Device names are ASCII in practice.
func ChecksumA(text string) uint16 {
	crc := uint16(checksumAInit)
	for _, r := range text {
		if r > 0xFFFF {
			// Surrogate pair: feed both halves like a UTF-16 string would.
			r -= 0x10000
			crc = crcStep(crc, uint16(0xD800+(r>>10)))
			crc = crcStep(crc, uint16(0xDC00+(r&0x3FF)))
			continue
		}
		crc = crcStep(crc, uint16(r))
	}
	return crc
}

// ChecksumB computes the single checksum byte of an unlock response
func ChecksumB(data []byte) byte {
	crc := uint16(checksumBInit)
	for _, b := range data {
		crc = crcStep(crc, uint16(b))
	}
	return byte((crc ^ checksumBOut) & 0xFF)
}
