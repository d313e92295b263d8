// Package types defines the identifiers shared by the program store, the
// remote execution service and the command line.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// IDSize is the length of a program ID in bytes.
const IDSize = 32

var (
	// ErrInvalidID is returned when an ID has an invalid length.
	ErrInvalidID = errors.New("invalid program id: must be 32 bytes")
)

// ProgramID is the BLAKE3 digest of a program's canonical text.
type ProgramID [IDSize]byte

// ComputeProgramID hashes canonical program text. Callers pass the output of
// intcode.Format so that formatting differences do not change the ID.
func ComputeProgramID(canonical string) ProgramID {
	return blake3.Sum256([]byte(canonical))
}

// ProgramIDFromBase58 parses a base58-encoded program ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != IDSize {
		return id, ErrInvalidID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != IDSize {
		return id, ErrInvalidID
	}
	copy(id[:], b)
	return id, nil
}

// MustProgramIDFromBase58 parses a base58 program ID or panics.
func MustProgramIDFromBase58(s string) ProgramID {
	id, err := ProgramIDFromBase58(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// Short returns the first eight base58 characters, for display.
func (id ProgramID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex returns the hex-encoded representation.
func (id ProgramID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
