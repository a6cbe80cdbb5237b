package bytecode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Binary program format: a 4-byte magic and a 1-byte format version,
// followed by the canonical CBOR encoding of the program. Canonical mode
// keeps the encoding deterministic so encode(p) is stable.

var formatMagic = []byte("CRTN")

// FormatVersion is the current binary format version.
const FormatVersion byte = 1

// Decode errors. These surface to the embedding caller; they are never
// catchable from within a running program.
var (
	ErrBadMagic   = errors.New("bytecode: not a corten program")
	ErrBadVersion = errors.New("bytecode: unsupported format version")
	ErrTruncated  = errors.New("bytecode: truncated program")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes a program to its versioned binary form.
func Encode(p *Program) ([]byte, error) {
	body, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("bytecode: encode: %w", err)
	}
	out := make([]byte, 0, len(formatMagic)+1+len(body))
	out = append(out, formatMagic...)
	out = append(out, FormatVersion)
	out = append(out, body...)
	return out, nil
}

// Decode reconstructs a program from its binary form. A version or
// structural mismatch fails with an explicit error rather than
// misinterpreting bytes. The returned program is sealed.
func Decode(data []byte) (*Program, error) {
	if len(data) < len(formatMagic)+1 {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[:len(formatMagic)], formatMagic) {
		return nil, ErrBadMagic
	}
	if v := data[len(formatMagic)]; v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	var p Program
	if err := cbor.Unmarshal(data[len(formatMagic)+1:], &p); err != nil {
		return nil, fmt.Errorf("bytecode: decode: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	sealDecoded(&p)
	return &p, nil
}

// sealDecoded marks a decoded program tree as frozen without stamping a
// fresh version, preserving the encoded one for round-trip equality.
func sealDecoded(p *Program) {
	p.sealed = true
	for _, fn := range p.Functions {
		sealDecoded(fn)
	}
}

// validate checks structural invariants so a corrupt body fails loudly
// instead of producing undefined interpreter behavior.
func validate(p *Program) error {
	n := len(p.Instructions)
	for i, in := range p.Instructions {
		if !in.Op.Known() {
			return fmt.Errorf("bytecode: decode: unknown opcode 0x%02X at %d", uint8(in.Op), i)
		}
		if t := in.JumpTarget(); t >= 0 && t >= n {
			return fmt.Errorf("bytecode: decode: jump target %d out of range at %d", t, i)
		}
		if in.Op == OpLoadConst && int(in.B) >= len(p.Constants) {
			return fmt.Errorf("bytecode: decode: constant index %d out of range at %d", in.B, i)
		}
		if in.Op == OpLoadFunction && int(in.B) >= len(p.Functions) {
			return fmt.Errorf("bytecode: decode: function index %d out of range at %d", in.B, i)
		}
	}
	for _, fn := range p.Functions {
		if err := validate(fn); err != nil {
			return err
		}
	}
	return nil
}
