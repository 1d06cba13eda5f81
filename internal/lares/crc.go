package lares

import (
	"bytes"
	"fmt"
)

// Checksum parameters used by panel firmware: CRC-16/CCITT with seed
// 0xFFFF, polynomial 0x1021, most-significant-bit first, no reflection,
// no final xor.
const (
	crcSeed uint16 = 0xFFFF
	crcPoly uint16 = 0x1021
)

// crcKeyLabel is the serialised CRC_16 key. The frame checksum covers the
// envelope bytes up to and including this label's closing quote; the key's
// value is never part of its own checksum.
const crcKeyLabel = `"CRC_16"`

// crcSentinel is the placeholder serialised into the CRC_16 slot before
// the real value is patched in. It has the same byte length as every
// final checksum, so patching never shifts the frame.
const crcSentinel = "0x0000"

// Checksum computes the panel's CRC-16 over data.
func Checksum(data []byte) uint16 {
	crc := crcSeed
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FormatChecksum renders a checksum the way the panel expects: "0x"
// followed by exactly four lowercase hex digits.
func FormatChecksum(crc uint16) string {
	return fmt.Sprintf("0x%04x", crc)
}

// checksumInput returns the prefix of a serialised envelope that the
// checksum covers: everything up to and including the closing quote of
// the CRC_16 key label. The envelope's fixed field order places CRC_16
// last, so the final occurrence is always the envelope's own key.
func checksumInput(raw []byte) ([]byte, bool) {
	idx := bytes.LastIndex(raw, []byte(crcKeyLabel))
	if idx < 0 {
		return nil, false
	}
	return raw[:idx+len(crcKeyLabel)], true
}

// verifyChecksum recomputes the checksum of a received frame under the
// stop-point rule and compares it with the declared CRC_16 value.
func verifyChecksum(raw []byte, declared string) error {
	prefix, ok := checksumInput(raw)
	if !ok {
		return fmt.Errorf("%w: frame carries no CRC_16 field", ErrParse)
	}
	want := FormatChecksum(Checksum(prefix))
	if !bytes.EqualFold([]byte(declared), []byte(want)) {
		return fmt.Errorf("%w: checksum mismatch (declared %s, computed %s)", ErrParse, declared, want)
	}
	return nil
}
