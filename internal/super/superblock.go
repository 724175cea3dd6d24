// Package super implements the superblock header codec: bit-exact
// parse/serialize of the 40-byte header that precedes every superblock
// slot's payload. It owns only the codec — slot rotation, mirroring, and
// mount-time winner selection live in internal/engine.
package super

import (
	"encoding/binary"
)

const (
	// Magic is the literal on-disk byte sequence "VIOFS\x00\x00\x01",
	// read as a big-endian uint64. It must be written/compared with
	// binary.BigEndian so the bytes on disk are 56 49 4F 46 53 00 00 01.
	Magic uint64 = 0x56494F4653000001

	// Version is the only format version this build understands.
	Version uint32 = 1

	// HeaderSize is the fixed header length in bytes, before the payload.
	HeaderSize = 40

	// MinSlotSize is the floor below which a slot is never sized, even for
	// tiny page sizes used in tests.
	MinSlotSize = 4096

	magicOff         = 0
	versionOff       = 8
	pageSizeOff      = 12
	generationOff    = 16
	activeSlotOff    = 24
	reserved0Off     = 25
	headerCRCOff     = 28
	payloadCRCOff    = 32
	reserved1Off     = 36
)

// Header is the decoded form of a superblock's 40-byte header.
type Header struct {
	Version         uint32
	PageSize        int32
	Generation      int64
	ActiveSlot      uint8
	HeaderChecksum  uint32
	PayloadChecksum uint32
}

// SlotSize returns max(pageSize, HeaderSize, MinSlotSize).
func SlotSize(pageSize int) int {
	s := pageSize
	if HeaderSize > s {
		s = HeaderSize
	}
	if MinSlotSize > s {
		s = MinSlotSize
	}
	return s
}

// Marshal serializes a full slot buffer (HeaderSize + payload) from h and
// payload. buf must be exactly slotSize bytes; the trailing
// slotSize-HeaderSize-len(payload) bytes are zero-filled.
func Marshal(h Header, payload []byte, slotSize int) []byte {
	buf := make([]byte, slotSize)
	binary.BigEndian.PutUint64(buf[magicOff:], Magic)
	binary.LittleEndian.PutUint32(buf[versionOff:], h.Version)
	binary.LittleEndian.PutUint32(buf[pageSizeOff:], uint32(h.PageSize))
	binary.LittleEndian.PutUint64(buf[generationOff:], uint64(h.Generation))
	buf[activeSlotOff] = h.ActiveSlot
	buf[reserved0Off], buf[reserved0Off+1], buf[reserved0Off+2] = 0, 0, 0
	buf[reserved1Off], buf[reserved1Off+1], buf[reserved1Off+2], buf[reserved1Off+3] = 0, 0, 0, 0
	copy(buf[HeaderSize:], payload)

	payloadCRC := Fletcher32(buf[HeaderSize:slotSize])
	binary.LittleEndian.PutUint32(buf[payloadCRCOff:], payloadCRC)

	// Header checksum covers the 40-byte header with the checksum field
	// itself zeroed.
	binary.LittleEndian.PutUint32(buf[headerCRCOff:], 0)
	headerCRC := Fletcher32(buf[:HeaderSize])
	binary.LittleEndian.PutUint32(buf[headerCRCOff:], headerCRC)

	return buf
}

// Parse decodes a slot buffer's header without validating checksums; use
// Validate to check integrity. buf must be at least HeaderSize bytes.
func Parse(buf []byte) Header {
	return Header{
		Version:         binary.LittleEndian.Uint32(buf[versionOff:]),
		PageSize:        int32(binary.LittleEndian.Uint32(buf[pageSizeOff:])),
		Generation:      int64(binary.LittleEndian.Uint64(buf[generationOff:])),
		ActiveSlot:      buf[activeSlotOff],
		HeaderChecksum:  binary.LittleEndian.Uint32(buf[headerCRCOff:]),
		PayloadChecksum: binary.LittleEndian.Uint32(buf[payloadCRCOff:]),
	}
}

// Validate reports whether buf (a full slot) has a correct magic, a
// supported version, and matching header/payload checksums.
func Validate(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	if binary.BigEndian.Uint64(buf[magicOff:]) != Magic {
		return false
	}
	h := Parse(buf)
	if h.Version != Version {
		return false
	}

	check := make([]byte, HeaderSize)
	copy(check, buf[:HeaderSize])
	binary.LittleEndian.PutUint32(check[headerCRCOff:], 0)
	if Fletcher32(check) != h.HeaderChecksum {
		return false
	}
	if Fletcher32(buf[HeaderSize:]) != h.PayloadChecksum {
		return false
	}
	return true
}

// Payload returns the payload region of a full slot buffer.
func Payload(buf []byte) []byte {
	return buf[HeaderSize:]
}
