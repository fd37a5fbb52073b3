package vlabel

import "encoding/binary"

// leWriter packs fixed-width fields into a byte slice, little-endian, in
// the idiom of the teacher's GPTHeader/ProtectiveMBR packing
// (pkg/vimg/partitions.go): a cursor advanced by each write, not an
// encoding/gob or reflection-based codec.
type leWriter struct {
	buf []byte
	off int
}

func newLEWriter(buf []byte) *leWriter {
	return &leWriter{buf: buf}
}

func (w *leWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *leWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *leWriter) bytes(b []byte) {
	copy(w.buf[w.off:], b)
	w.off += len(b)
}

type leReader struct {
	buf []byte
	off int
}

func newLEReader(buf []byte) *leReader {
	return &leReader{buf: buf}
}

func (r *leReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *leReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *leReader) bytes(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}
