package aot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/colorfulnotion/jitrt/common"
	"github.com/colorfulnotion/jitrt/jiterrors"
)

// Object file layout, all integers little-endian:
//
//	magic "JRTO" | u16 version | u16 len + target | u16 len + engine
//	| 32-byte fingerprint | payload
//
// The payload is u32 symbol count followed by u16 len + name and
// u32 len + code per symbol. The fingerprint is the BLAKE2b hash of the
// payload, so truncation and bit rot are caught before install.
var objectMagic = []byte("JRTO")

const objectVersion = uint16(1)

// Symbol is one named function body inside an object.
type Symbol struct {
	Name string
	Code []byte
}

// Object is a compiled, installable unit: the engine that produced it,
// the target it encodes for, and its symbols.
type Object struct {
	Target      string
	Engine      string
	Fingerprint common.Hash
	Symbols     []Symbol
}

// Encode serializes the object and stamps its fingerprint.
func (o *Object) Encode() []byte {
	payload := &bytes.Buffer{}
	payload.Write(common.Uint32ToBytes(uint32(len(o.Symbols))))
	for _, sym := range o.Symbols {
		payload.Write(common.Uint16ToBytes(uint16(len(sym.Name))))
		payload.WriteString(sym.Name)
		payload.Write(common.Uint32ToBytes(uint32(len(sym.Code))))
		payload.Write(sym.Code)
	}
	o.Fingerprint = common.Blake2Hash(payload.Bytes())

	out := &bytes.Buffer{}
	out.Write(objectMagic)
	out.Write(common.Uint16ToBytes(objectVersion))
	out.Write(common.Uint16ToBytes(uint16(len(o.Target))))
	out.WriteString(o.Target)
	out.Write(common.Uint16ToBytes(uint16(len(o.Engine))))
	out.WriteString(o.Engine)
	out.Write(o.Fingerprint.Bytes())
	out.Write(payload.Bytes())
	return out.Bytes()
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) take(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, false
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, true
}

func (r *byteReader) u16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return common.BytesToUint16(b), true
}

func (r *byteReader) u32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return common.BytesToUint32(b), true
}

// DecodeObject parses and integrity-checks an encoded object.
func DecodeObject(data []byte) (*Object, error) {
	r := &byteReader{data: data}

	magic, ok := r.take(len(objectMagic))
	if !ok || !bytes.Equal(magic, objectMagic) {
		return nil, fmt.Errorf("%w: bad magic", jiterrors.ErrAObjectFormat)
	}
	ver, ok := r.u16()
	if !ok {
		return nil, fmt.Errorf("%w: truncated header", jiterrors.ErrAObjectFormat)
	}
	if ver != objectVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", jiterrors.ErrAObjectFormat, ver, objectVersion)
	}

	obj := &Object{}
	for _, field := range []*string{&obj.Target, &obj.Engine} {
		n, ok := r.u16()
		if !ok {
			return nil, fmt.Errorf("%w: truncated header", jiterrors.ErrAObjectFormat)
		}
		s, ok := r.take(int(n))
		if !ok {
			return nil, fmt.Errorf("%w: truncated header", jiterrors.ErrAObjectFormat)
		}
		*field = string(s)
	}

	fp, ok := r.take(32)
	if !ok {
		return nil, fmt.Errorf("%w: truncated fingerprint", jiterrors.ErrAObjectFormat)
	}
	obj.Fingerprint = common.BytesToHash(fp)

	payload := r.data[r.off:]
	if common.Blake2Hash(payload) != obj.Fingerprint {
		return nil, fmt.Errorf("%w: payload hash mismatch", jiterrors.ErrAObjectDigest)
	}

	count, ok := r.u32()
	if !ok {
		return nil, fmt.Errorf("%w: truncated symbol count", jiterrors.ErrAObjectFormat)
	}
	for i := uint32(0); i < count; i++ {
		nameLen, ok := r.u16()
		if !ok {
			return nil, fmt.Errorf("%w: truncated symbol %d", jiterrors.ErrAObjectFormat, i)
		}
		name, ok := r.take(int(nameLen))
		if !ok {
			return nil, fmt.Errorf("%w: truncated symbol %d name", jiterrors.ErrAObjectFormat, i)
		}
		codeLen, ok := r.u32()
		if !ok {
			return nil, fmt.Errorf("%w: truncated symbol %d", jiterrors.ErrAObjectFormat, i)
		}
		code, ok := r.take(int(codeLen))
		if !ok {
			return nil, fmt.Errorf("%w: truncated symbol %d body", jiterrors.ErrAObjectFormat, i)
		}
		obj.Symbols = append(obj.Symbols, Symbol{Name: string(name), Code: append([]byte{}, code...)})
	}
	if r.off != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", jiterrors.ErrAObjectFormat, len(r.data)-r.off)
	}
	return obj, nil
}

// WriteObjectFile encodes the object and writes it to path, creating
// parent directories as needed.
func WriteObjectFile(path string, o *Object) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create object dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, o.Encode(), 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", path, err)
	}
	return nil
}

// ReadObjectFile loads and integrity-checks an object file.
func ReadObjectFile(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	obj, err := DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", path, err)
	}
	return obj, nil
}

// CheckObjectFile reports whether path holds a well-formed object whose
// fingerprint verifies. Missing files are simply not valid objects.
func CheckObjectFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	_, err = DecodeObject(data)
	return err == nil
}
