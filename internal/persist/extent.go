package persist

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/ids"
)

// Metadata extent pages carry a per-page CRC using CRC-32C (Castagnoli).
// This is the only CRC in the module; superblock slots use Fletcher-32.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

const extentPageHeaderSize = 8 // 4 bytes CRC + 4 bytes data length

func extentPageCapacity(pageSize int) int {
	return pageSize - extentPageHeaderSize
}

func pagesForLength(dataLen, pageSize int) uint32 {
	cap := extentPageCapacity(pageSize)
	if dataLen == 0 {
		return 1
	}
	return uint32((dataLen + cap - 1) / cap)
}

// writeExtent splits data across span's pages, one extentPageHeaderSize +
// chunk per page, each with its own CRC.
func writeExtent(eng *engine.Engine, span ids.PageSpan, data []byte) error {
	pageSize := eng.PageSize()
	cap := extentPageCapacity(pageSize)
	off := 0
	for i := uint32(0); i < span.Length; i++ {
		page := make([]byte, pageSize)
		n := len(data) - off
		if n < 0 {
			n = 0
		}
		if n > cap {
			n = cap
		}
		if n > 0 {
			copy(page[extentPageHeaderSize:], data[off:off+n])
			off += n
		}
		binary.LittleEndian.PutUint32(page[4:8], uint32(n))
		crc := crc32.Checksum(page[extentPageHeaderSize:], crcTable)
		binary.LittleEndian.PutUint32(page[0:4], crc)
		if err := eng.WritePage(span.Start+ids.PageID(i), page); err != nil {
			return err
		}
	}
	return nil
}

// readExtent reconstructs the byte buffer written by writeExtent.
func readExtent(eng *engine.Engine, span ids.PageSpan) ([]byte, error) {
	var out []byte
	for i := uint32(0); i < span.Length; i++ {
		page, err := eng.ReadPage(span.Start + ids.PageID(i))
		if err != nil {
			return nil, err
		}
		if len(page) < extentPageHeaderSize {
			return nil, errs.Corruption("metadata extent page %d too small", span.Start+ids.PageID(i))
		}
		wantCRC := binary.LittleEndian.Uint32(page[0:4])
		n := binary.LittleEndian.Uint32(page[4:8])
		if int(n) > len(page)-extentPageHeaderSize {
			return nil, errs.Corruption("metadata extent page %d declares impossible length", span.Start+ids.PageID(i))
		}
		gotCRC := crc32.Checksum(page[extentPageHeaderSize:], crcTable)
		if gotCRC != wantCRC {
			return nil, errs.Corruption("metadata extent page %d checksum mismatch", span.Start+ids.PageID(i))
		}
		out = append(out, page[extentPageHeaderSize:extentPageHeaderSize+n]...)
	}
	return out, nil
}
