package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/viofs/viofs/internal/attrtable"
	"github.com/viofs/viofs/internal/dirindex"
	"github.com/viofs/viofs/internal/filetable"
	"github.com/viofs/viofs/internal/ids"
)

// Every table blob is a flat sequence of length-prefixed records,
// serialized in a deterministic (sorted) order so that byte-identical
// in-memory state always round-trips to byte-identical bytes. The encoding
// is hand-rolled binary.LittleEndian, the same idiom used elsewhere in
// this module for the superblock header and metadata extent pages.

func putTime(buf *bytes.Buffer, t timeLike) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.UnixNano()))
	buf.Write(b[:])
}

func getTime(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// timeLike avoids importing time in this file's signature noise; callers
// pass time.Time which satisfies it.
type timeLike interface {
	UnixNano() int64
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func putString(buf *bytes.Buffer, s string) {
	putU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU8(r *bytes.Reader) (uint8, error) {
	return r.ReadByte()
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFullReader(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFullReader(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFullReader(r *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			if total == len(b) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("short read")
		}
	}
	return total, nil
}

func putExtents(buf *bytes.Buffer, extents []ids.PageSpan) {
	putU32(buf, uint32(len(extents)))
	for _, e := range extents {
		putU64(buf, uint64(e.Start))
		putU32(buf, e.Length)
	}
}

func readExtents(r *bytes.Reader) ([]ids.PageSpan, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]ids.PageSpan, n)
	for i := range out {
		start, err := readU64(r)
		if err != nil {
			return nil, err
		}
		length, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = ids.PageSpan{Start: ids.PageID(start), Length: length}
	}
	return out, nil
}

// encodeFileTable serializes every Metadata record in files (already
// sorted by id) into a flat buffer.
func encodeFileTable(files []filetable.Metadata) []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(len(files)))
	for _, m := range files {
		putU64(&buf, uint64(m.ID))
		putU8(&buf, uint8(m.Kind))
		putU32(&buf, m.Attributes)
		putU64(&buf, m.Length)
		putTime(&buf, m.Timestamps.Created)
		putTime(&buf, m.Timestamps.Modified)
		putTime(&buf, m.Timestamps.Accessed)
		putExtents(&buf, m.Extents)
	}
	return buf.Bytes()
}

func decodeFileTable(data []byte) ([]filetable.Metadata, error) {
	r := bytes.NewReader(data)
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]filetable.Metadata, n)
	for i := range out {
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		kind, err := readU8(r)
		if err != nil {
			return nil, err
		}
		attrs, err := readU32(r)
		if err != nil {
			return nil, err
		}
		length, err := readU64(r)
		if err != nil {
			return nil, err
		}
		created, err := getTime(r)
		if err != nil {
			return nil, err
		}
		modified, err := getTime(r)
		if err != nil {
			return nil, err
		}
		accessed, err := getTime(r)
		if err != nil {
			return nil, err
		}
		extents, err := readExtents(r)
		if err != nil {
			return nil, err
		}
		out[i] = filetable.Metadata{
			ID:         ids.FileID(id),
			Kind:       ids.FileKind(kind),
			Attributes: attrs,
			Length:     length,
			Extents:    extents,
			Timestamps: filetable.Timestamps{
				Created:  nanoTime(created),
				Modified: nanoTime(modified),
				Accessed: nanoTime(accessed),
			},
		}
	}
	return out, nil
}

func encodeDirIndex(entries []dirindex.SnapshotEntry) []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(len(entries)))
	for _, e := range entries {
		putU64(&buf, uint64(e.Parent))
		putString(&buf, e.Entry.Name)
		putU64(&buf, uint64(e.Entry.Target))
		putU8(&buf, uint8(e.Entry.Kind))
		putU32(&buf, e.Entry.Attributes)
		putTime(&buf, e.Entry.Timestamps.Created)
		putTime(&buf, e.Entry.Timestamps.Modified)
		putTime(&buf, e.Entry.Timestamps.Accessed)
		putU64(&buf, e.Entry.Generation)
	}
	return buf.Bytes()
}

func decodeDirIndex(data []byte) ([]dirindex.SnapshotEntry, error) {
	r := bytes.NewReader(data)
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]dirindex.SnapshotEntry, n)
	for i := range out {
		parent, err := readU64(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		target, err := readU64(r)
		if err != nil {
			return nil, err
		}
		kind, err := readU8(r)
		if err != nil {
			return nil, err
		}
		attrs, err := readU32(r)
		if err != nil {
			return nil, err
		}
		created, err := getTime(r)
		if err != nil {
			return nil, err
		}
		modified, err := getTime(r)
		if err != nil {
			return nil, err
		}
		accessed, err := getTime(r)
		if err != nil {
			return nil, err
		}
		gen, err := readU64(r)
		if err != nil {
			return nil, err
		}
		out[i] = dirindex.SnapshotEntry{
			Parent: ids.FileID(parent),
			Entry: dirindex.Entry{
				Name:       name,
				Target:     ids.FileID(target),
				Kind:       ids.FileKind(kind),
				Attributes: attrs,
				Timestamps: filetable.Timestamps{
					Created:  nanoTime(created),
					Modified: nanoTime(modified),
					Accessed: nanoTime(accessed),
				},
				Generation: gen,
			},
		}
	}
	return out, nil
}

func encodeAttrTable(records []attrtable.Record) []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(len(records)))
	for _, rec := range records {
		putU64(&buf, uint64(rec.File))
		putString(&buf, rec.Name)
		putBytes(&buf, rec.Value)
	}
	return buf.Bytes()
}

func decodeAttrTable(data []byte) ([]attrtable.Record, error) {
	r := bytes.NewReader(data)
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]attrtable.Record, n)
	for i := range out {
		file, err := readU64(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		value, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		out[i] = attrtable.Record{File: ids.FileID(file), Name: name, Value: value}
	}
	return out, nil
}
