package progstore

import (
	"fmt"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("progstore: cbor enc mode: %v", err))
	}
	cborEncMode = em
}

// record is the stored form of a program.
type record struct {
	Payload    []byte `cbor:"1,keyasint"`
	Compressed bool   `cbor:"2,keyasint"`
	Cells      int    `cbor:"3,keyasint"`
	Created    int64  `cbor:"4,keyasint"` // unix nanoseconds
}

func newRecord(canonical string, cells int, compress bool) (*record, error) {
	rec := &record{
		Payload: []byte(canonical),
		Cells:   cells,
		Created: time.Now().UnixNano(),
	}
	if compress {
		packed, err := compressZstd(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		rec.Payload = packed
		rec.Compressed = true
	}
	return rec, nil
}

func (r *record) encode() ([]byte, error) {
	data, err := cborEncMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func (r *record) text() (string, error) {
	if !r.Compressed {
		return string(r.Payload), nil
	}
	plain, err := decompressZstd(r.Payload)
	if err != nil {
		return "", fmt.Errorf("zstd decompression failed: %w", err)
	}
	return string(plain), nil
}

func (r *record) info(id types.ProgramID, name string) Info {
	return Info{
		ID:      id,
		Name:    name,
		Cells:   r.Cells,
		Size:    len(r.Payload),
		Created: time.Unix(0, r.Created),
	}
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
