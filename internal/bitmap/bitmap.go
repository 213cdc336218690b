// Package bitmap implements the Elias-Gamma-compressed run-length bitmap
// codec (spec §4.1). It is grounded directly on
// original_source/block-streamer/src/bitmap.rs: the encoding, decode loop,
// and merge-by-absolute-height semantics are ported line-for-line into
// idiomatic Go.
package bitmap

import (
	"encoding/base64"
	"fmt"

	"github.com/chainindex/coordinator/internal/errs"
)

// CompressedBitmap is the wire format fetched from the bitmap service: a
// byte-aligned Elias-Gamma run-length encoding plus the absolute height of
// bit 0.
type CompressedBitmap struct {
	StartBlockHeight uint64
	Data             []byte
}

// DecompressedBitmap is a raw bit array anchored at an absolute block
// height: bit i set means StartBlockHeight+i matches. Trailing zero bytes
// carry no meaning (spec §3 invariant).
type DecompressedBitmap struct {
	StartBlockHeight uint64
	Bits             []byte
}

// FromBase64 decodes the base64 envelope the bitmap service returns before
// handing the payload to Decompress.
func FromBase64(startBlockHeight uint64, encoded string) (CompressedBitmap, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return CompressedBitmap{}, fmt.Errorf("decode base64 bitmap: %w", err)
	}
	return CompressedBitmap{StartBlockHeight: startBlockHeight, Data: data}, nil
}

func getBit(bytes []byte, bitIndex int) bool {
	byteIndex := bitIndex / 8
	bitInByte := bitIndex % 8
	return bytes[byteIndex]&(1<<(7-bitInByte)) > 0
}

// setBit sets or clears a bit. When value is false and writeZero is false,
// the call is a no-op: merge uses writeZero=false so it only ever sets bits,
// never clearing a bit another bitmap already set (spec §4.1 "never clear an
// already-set bit").
func setBit(bytes []byte, bitIndex int, value, writeZero bool) {
	if value {
		bytes[bitIndex/8] |= 1 << (7 - uint(bitIndex%8))
	} else if writeZero {
		bytes[bitIndex/8] &^= 1 << (7 - uint(bitIndex%8))
	}
}

func readIntFromBinary(bytes []byte, startBit, endBit int) uint32 {
	var n uint32
	for cur := endBit; cur >= startBit; cur-- {
		if getBit(bytes, cur) {
			n |= 1 << uint(endBit-cur)
		}
	}
	return n
}

// indexOfFirstSetBit scans forward from startBit and returns the absolute
// bit index of the first set bit, or ok=false if none remain.
func indexOfFirstSetBit(bytes []byte, startBit int) (int, bool) {
	firstBitInByte := startBit % 8
	for byteIndex := startBit / 8; byteIndex < len(bytes); byteIndex++ {
		b := bytes[byteIndex]
		if b > 0 {
			for bitInByte := firstBitInByte; bitInByte <= 7; bitInByte++ {
				if b&(1<<(7-uint(bitInByte))) > 0 {
					return byteIndex*8 + bitInByte, true
				}
			}
		}
		firstBitInByte = 0
	}
	return 0, false
}

type eliasGammaDecoded struct {
	value        int
	lastBitIndex int
}

// decodeEliasGammaEntry reads one Elias-Gamma code starting at startBit. A
// zero-count z spans the unary run of zeros up to (but not including) the
// terminating 1 bit; the following z bits are the remainder. value is
// absent (zero) once no further set bit remains in bytes, which signals the
// decoder to stop (spec §4.1 "Decoding terminates when... absent").
func decodeEliasGammaEntry(bytes []byte, startBit int) eliasGammaDecoded {
	if len(bytes) == 0 {
		return eliasGammaDecoded{}
	}
	firstBitIndex, ok := indexOfFirstSetBit(bytes, startBit)
	if !ok {
		return eliasGammaDecoded{}
	}

	zeroCount := firstBitIndex - startBit
	var remainder uint32
	if zeroCount > 0 {
		remainder = readIntFromBinary(bytes, firstBitIndex+1, firstBitIndex+zeroCount)
	}

	return eliasGammaDecoded{
		value:        1<<uint(zeroCount) + int(remainder),
		lastBitIndex: firstBitIndex + zeroCount,
	}
}

// decompressBits runs the full Elias-Gamma decode loop described in spec
// §4.1, producing only as many bytes as are needed to hold the runs of set
// bits actually observed (callers must tolerate a short result).
func decompressBits(compressed []byte) []byte {
	if len(compressed) == 0 {
		return nil
	}

	compressedBitLen := len(compressed) * 8
	currentValue := compressed[0]&0b10000000 > 0

	var out []byte
	compressedBitIndex := 1
	decompressedBitIndex := 0

	for compressedBitIndex < compressedBitLen {
		decoded := decodeEliasGammaEntry(compressed, compressedBitIndex)
		if decoded.value == 0 {
			break
		}

		compressedBitIndex = decoded.lastBitIndex + 1

		if currentValue {
			for offset := 0; offset < decoded.value; offset++ {
				for decompressedBitIndex+offset >= len(out)*8 {
					out = append(out, 0)
				}
				setBit(out, decompressedBitIndex+offset, true, true)
			}
		}

		decompressedBitIndex += decoded.value
		currentValue = !currentValue
	}

	return out
}

// Decompress expands a CompressedBitmap into its raw bit array. It never
// returns an error for well-formed input; a malformed compressed payload
// that ends inside a code's run of leading zeros simply stops decoding early rather than
// panicking, since decodeEliasGammaEntry treats "no further set bit" as the
// terminal condition regardless of whether that reflects a genuine end of
// stream or truncation. Genuinely impossible codes — a zero-count that
// would require reading past the end of the byte slice — are reported as
// errs.CorruptBitmap.
func Decompress(c CompressedBitmap) (DecompressedBitmap, error) {
	if len(c.Data) == 0 {
		return DecompressedBitmap{StartBlockHeight: c.StartBlockHeight}, nil
	}
	if err := validateEliasGamma(c.Data); err != nil {
		return DecompressedBitmap{}, fmt.Errorf("%w: %v", errs.CorruptBitmap, err)
	}
	return DecompressedBitmap{
		StartBlockHeight: c.StartBlockHeight,
		Bits:             decompressBits(c.Data),
	}, nil
}

// validateEliasGamma re-walks the compressed stream checking that every
// code's remainder bits actually exist within bounds, surfacing corruption
// as errs.CorruptBitmap instead of silently truncating.
func validateEliasGamma(compressed []byte) error {
	bitLen := len(compressed) * 8
	idx := 1
	for idx < bitLen {
		firstSet, ok := indexOfFirstSetBit(compressed, idx)
		if !ok {
			return nil
		}
		zeroCount := firstSet - idx
		if firstSet+zeroCount >= bitLen {
			return fmt.Errorf("elias-gamma code at bit %d needs %d remainder bits past end of stream", idx, zeroCount)
		}
		idx = firstSet + zeroCount + 1
	}
	return nil
}

// Merge bitwise-ORs two bitmaps aligned at absolute block heights, growing
// the result as needed. It never clears a bit the other operand set, and is
// commutative: Merge(a, b) == Merge(b, a).
func Merge(a, b DecompressedBitmap) (DecompressedBitmap, error) {
	if b.StartBlockHeight < a.StartBlockHeight {
		a, b = b, a
	}

	offset := b.StartBlockHeight - a.StartBlockHeight
	if offset > 1<<40 {
		// Implausible alignment distance; treat as the arithmetic overflow
		// guard called out in spec §4.1 rather than allocate a huge slice.
		return DecompressedBitmap{}, errs.BitmapArithmetic
	}

	out := make([]byte, len(a.Bits))
	copy(out, a.Bits)

	startBit := int(offset)
	for bitOffset := 0; bitOffset < len(b.Bits)*8; bitOffset++ {
		if !getBit(b.Bits, bitOffset) {
			continue
		}
		absBit := startBit + bitOffset
		for absBit >= len(out)*8 {
			out = append(out, 0)
		}
		setBit(out, absBit, true, false)
	}

	return DecompressedBitmap{StartBlockHeight: a.StartBlockHeight, Bits: out}, nil
}

// Iter returns the absolute block heights whose bit is set, in ascending
// order.
func Iter(d DecompressedBitmap) []uint64 {
	var heights []uint64
	for i := 0; i < len(d.Bits)*8; i++ {
		if getBit(d.Bits, i) {
			heights = append(heights, d.StartBlockHeight+uint64(i))
		}
	}
	return heights
}
