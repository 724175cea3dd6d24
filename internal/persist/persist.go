// Package persist serializes the file table, directory index, and
// attribute table into metadata extents and commits a new superblock
// payload pointing at them: flush three whole tables, commit, then
// release staged data frees.
package persist

import (
	"bytes"
	"encoding/binary"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/alloc"
	"github.com/viofs/viofs/internal/attrtable"
	"github.com/viofs/viofs/internal/dirindex"
	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/filetable"
	"github.com/viofs/viofs/internal/ids"
)

// Manager ties the three in-memory tables to the allocator and storage
// engine and implements their commit/load procedures.
type Manager struct {
	eng    *engine.Engine
	alloc  *alloc.Allocator
	files  *filetable.Table
	dirs   *dirindex.Index
	attrs  *attrtable.Table

	lastFileExtent []ids.PageSpan
	lastDirExtent  []ids.PageSpan
	lastAttrExtent []ids.PageSpan
}

// New wires a Manager around already-constructed tables.
func New(eng *engine.Engine, a *alloc.Allocator, files *filetable.Table, dirs *dirindex.Index, attrs *attrtable.Table) *Manager {
	return &Manager{eng: eng, alloc: a, files: files, dirs: dirs, attrs: attrs}
}

const payloadMagic uint32 = 0x4D445031 // "MDP1"

type tableDescriptor struct {
	byteLength int64
	extents    []ids.PageSpan
}

func writeDescriptor(buf *bytes.Buffer, d tableDescriptor) {
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(d.byteLength))
	buf.Write(b8[:])
	putExtents(buf, d.extents)
}

func readDescriptor(r *bytes.Reader) (tableDescriptor, error) {
	var b8 [8]byte
	if _, err := r.Read(b8[:]); err != nil {
		return tableDescriptor{}, err
	}
	extents, err := readExtents(r)
	if err != nil {
		return tableDescriptor{}, err
	}
	return tableDescriptor{byteLength: int64(binary.LittleEndian.Uint64(b8[:])), extents: extents}, nil
}

// buildPayload serializes the root-pointer superblock payload: a magic, the
// File Table's next-id counter, and the three table descriptors, in that
// fixed order.
func buildPayload(nextFileID ids.FileID, ft, di, at tableDescriptor) []byte {
	var buf bytes.Buffer
	putU32(&buf, payloadMagic)
	putU64(&buf, uint64(nextFileID))
	writeDescriptor(&buf, ft)
	writeDescriptor(&buf, di)
	writeDescriptor(&buf, at)
	return buf.Bytes()
}

func parsePayload(payload []byte) (nextFileID ids.FileID, ft, di, at tableDescriptor, err error) {
	r := bytes.NewReader(payload)
	magic, err := readU32(r)
	if err != nil {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, err
	}
	if magic != payloadMagic {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, errs.Corruption("superblock payload magic mismatch")
	}
	id64, err := readU64(r)
	if err != nil {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, err
	}
	ft, err = readDescriptor(r)
	if err != nil {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, err
	}
	di, err = readDescriptor(r)
	if err != nil {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, err
	}
	at, err = readDescriptor(r)
	if err != nil {
		return 0, tableDescriptor{}, tableDescriptor{}, tableDescriptor{}, err
	}
	return ids.FileID(id64), ft, di, at, nil
}

// writeTable reserves a fresh metadata extent sized for data, writes it,
// and returns the descriptor plus the reservation (uncommitted — caller
// must Commit() or let Abort() reclaim it on failure).
func (m *Manager) writeTable(data []byte) (tableDescriptor, *alloc.Reservation, error) {
	pages := pagesForLength(len(data), m.eng.PageSize())
	res, err := m.alloc.Reserve(alloc.Metadata, pages)
	if err != nil {
		return tableDescriptor{}, nil, err
	}
	if err := writeExtent(m.eng, res.Span(), data); err != nil {
		res.Abort()
		return tableDescriptor{}, nil, err
	}
	return tableDescriptor{byteLength: int64(len(data)), extents: []ids.PageSpan{res.Span()}}, res, nil
}

// Flush serializes all three tables, reserves and writes new extents,
// commits a new superblock payload, then — only after that commit point —
// frees the old extents and releases staged data frees.
func (m *Manager) Flush() error {
	fileBlob := encodeFileTable(m.files.Enumerate())
	dirBlob := encodeDirIndex(m.dirs.Snapshot())
	attrBlob := encodeAttrTable(m.attrs.Snapshot())

	ftDesc, ftRes, err := m.writeTable(fileBlob)
	if err != nil {
		return err
	}
	defer ftRes.Abort()
	diDesc, diRes, err := m.writeTable(dirBlob)
	if err != nil {
		return err
	}
	defer diRes.Abort()
	atDesc, atRes, err := m.writeTable(attrBlob)
	if err != nil {
		return err
	}
	defer atRes.Abort()

	payload := buildPayload(m.files.NextID(), ftDesc, diDesc, atDesc)
	if err := m.eng.Commit(payload); err != nil {
		return err
	}
	ftRes.Commit()
	diRes.Commit()
	atRes.Commit()

	for _, span := range m.lastFileExtent {
		m.alloc.Free(alloc.Metadata, span)
	}
	for _, span := range m.lastDirExtent {
		m.alloc.Free(alloc.Metadata, span)
	}
	for _, span := range m.lastAttrExtent {
		m.alloc.Free(alloc.Metadata, span)
	}
	m.lastFileExtent = ftDesc.extents
	m.lastDirExtent = diDesc.extents
	m.lastAttrExtent = atDesc.extents

	m.alloc.ReleaseStagedData()
	return nil
}

// Load decodes the three tables from the engine's current superblock
// payload and installs them into the wired Manager's tables, then
// rebuilds the allocator from the resulting set of used spans (spec
// §4.2's rebuild algorithm + §4.7's mount-time load).
func (m *Manager) Load() error {
	_, _, payload := m.eng.Superblock()
	if len(payload) == 0 || allZero(payload) {
		// Freshly initialized container: nothing to load, File Table
		// already carries just the root directory.
		return nil
	}
	nextFileID, ftDesc, diDesc, atDesc, err := parsePayload(payload)
	if err != nil {
		return err
	}

	fileBlob, err := concatExtent(m.eng, ftDesc.extents, ftDesc.byteLength)
	if err != nil {
		return err
	}
	files, err := decodeFileTable(fileBlob)
	if err != nil {
		return err
	}

	dirBlob, err := concatExtent(m.eng, diDesc.extents, diDesc.byteLength)
	if err != nil {
		return err
	}
	dirs, err := decodeDirIndex(dirBlob)
	if err != nil {
		return err
	}

	attrBlob, err := concatExtent(m.eng, atDesc.extents, atDesc.byteLength)
	if err != nil {
		return err
	}
	attrs, err := decodeAttrTable(attrBlob)
	if err != nil {
		return err
	}

	m.files.Restore(files, nextFileID)
	m.dirs.Restore(dirs)
	m.attrs.Restore(attrs)
	m.lastFileExtent = ftDesc.extents
	m.lastDirExtent = diDesc.extents
	m.lastAttrExtent = atDesc.extents

	var used []ids.PageSpan
	used = append(used, ftDesc.extents...)
	used = append(used, diDesc.extents...)
	used = append(used, atDesc.extents...)
	for _, f := range files {
		used = append(used, f.Extents...)
	}
	m.alloc.RebuildFromDisk(used)
	return nil
}

func concatExtent(eng *engine.Engine, extents []ids.PageSpan, byteLength int64) ([]byte, error) {
	var out []byte
	for _, span := range extents {
		chunk, err := readExtent(eng, span)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	if int64(len(out)) < byteLength {
		return nil, errs.Corruption("metadata extent shorter than recorded length")
	}
	return out[:byteLength], nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
