package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrMalformedSnapshot is returned (wrapped) for snapshot blobs that cannot be decoded.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Snapshot is the persisted form of one entity type's index.
type Snapshot struct {
	Generation string
	EntityType string
	Dimensions int
	Records    []Record
}

// Snapshot copies the index content into a Snapshot.
func (m *MemoryIndex) Snapshot(entityType, generation string) *Snapshot {
	return &Snapshot{
		Generation: generation,
		EntityType: entityType,
		Dimensions: m.dimensions,
		Records:    m.Records(),
	}
}

var snapshotMagic = [4]byte{'R', 'Q', 'I', 'X'}

const (
	snapshotVersion = 1
	// maxStringLen bounds ids and source text so corrupt lengths fail fast.
	maxStringLen = 1 << 24
)

// maxSnapshotBytes caps the decompressed size of a snapshot.
var maxSnapshotBytes uint64 = 64 * maxStringLen

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	return newZstdDecoder()
}

func newZstdDecoder() *zstd.Decoder {
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotBytes))
	return dec
}

// EncodeSnapshot serializes s. Format: magic (4), version (1), then a zstd
// frame holding, little endian: generation, entity type, dimension (4),
// count (4), and per record: id, source text, vector (dimension*4 bytes).
// Strings are length (4) prefixed.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	var raw bytes.Buffer
	writeString(&raw, s.Generation)
	writeString(&raw, s.EntityType)
	_ = binary.Write(&raw, binary.LittleEndian, uint32(s.Dimensions))
	_ = binary.Write(&raw, binary.LittleEndian, uint32(len(s.Records)))
	for _, r := range s.Records {
		if len(r.Vector) != s.Dimensions {
			return nil, fmt.Errorf("record %s: vector dimension %d, snapshot %d", r.EntityID, len(r.Vector), s.Dimensions)
		}
		writeString(&raw, r.EntityID)
		writeString(&raw, r.SourceText)
		raw.Write(float32SliceToBytes(r.Vector))
	}

	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	out := make([]byte, 0, 5+raw.Len()/2)
	out = append(out, snapshotMagic[:]...)
	out = append(out, snapshotVersion)
	return enc.EncodeAll(raw.Bytes(), out), nil
}

// DecodeSnapshot parses a blob written by EncodeSnapshot. Every failure wraps
// ErrMalformedSnapshot.
func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	if len(blob) < 5 || !bytes.Equal(blob[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrMalformedSnapshot)
	}
	if blob[4] != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedSnapshot, blob[4])
	}
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)
	raw, err := dec.DecodeAll(blob[5:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	r := bytes.NewReader(raw)
	s := &Snapshot{}
	if s.Generation, err = readString(r); err != nil {
		return nil, malformed("generation", err)
	}
	if s.EntityType, err = readString(r); err != nil {
		return nil, malformed("entity type", err)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, malformed("dimensions", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, malformed("count", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrMalformedSnapshot)
	}
	// each record needs at least two length prefixes and its vector
	if uint64(n)*(8+uint64(dim)*4) > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %d records do not fit in %d bytes", ErrMalformedSnapshot, n, r.Len())
	}
	s.Dimensions = int(dim)
	s.Records = make([]Record, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var rec Record
		if rec.EntityID, err = readString(r); err != nil {
			return nil, malformed("id", err)
		}
		if rec.SourceText, err = readString(r); err != nil {
			return nil, malformed("source text", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, malformed("vector", err)
		}
		rec.Vector = bytesToFloat32Slice(buf)
		s.Records = append(s.Records, rec)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedSnapshot, r.Len())
	}
	return s, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: read %s: %v", ErrMalformedSnapshot, what, err)
}

func writeString(w *bytes.Buffer, s string) {
	_ = binary.Write(w, binary.LittleEndian, uint32(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLen || int(n) > r.Len() {
		return "", fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
