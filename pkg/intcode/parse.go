package intcode

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Parse reads comma-separated signed decimal integers. Whitespace around
// tokens and a trailing newline are ignored; empty tokens are rejected.
func Parse(text string) ([]int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty program", ErrMalformedProgram)
	}

	fields := strings.Split(text, ",")
	program := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d %q", ErrMalformedProgram, i, f)
		}
		program[i] = v
	}
	return program, nil
}

// Format renders a program as canonical comma-separated text.
func Format(program []int64) string {
	var sb strings.Builder
	for i, v := range program {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(v, 10))
	}
	return sb.String()
}

// Load parses program text into a fresh machine.
func Load(text string, opts ...Options) (*Machine, error) {
	program, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return New(program, pickOptions(opts)), nil
}

// MustLoad is like Load but panics on malformed text.
func MustLoad(text string, opts ...Options) *Machine {
	m, err := Load(text, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// ReadText returns program text from r, transparently decompressing zstd
// input.
func ReadText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read program: %w", err)
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		return string(data), nil
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	plain, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("decompress program: %w", err)
	}
	return string(plain), nil
}

// LoadFile loads a program from a plain or zstd-compressed text file.
func LoadFile(path string, opts ...Options) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	text, err := ReadText(f)
	if err != nil {
		return nil, err
	}
	m, err := Load(text, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func pickOptions(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}
	}
	return opts[0]
}
