package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorruptEntry is returned when encoded entry bytes cannot be decoded.
var ErrCorruptEntry = errors.New("storage: corrupt entry")

// AppendEntry appends the binary encoding of e to dst:
// uvarint cell, uvarint seq, uvarint len(id), id, uvarint len(code), code.
func AppendEntry(dst []byte, e Entry) []byte {
	dst = binary.AppendUvarint(dst, uint64(e.Cell))
	dst = binary.AppendUvarint(dst, e.Seq)
	dst = binary.AppendUvarint(dst, uint64(len(e.ID)))
	dst = append(dst, e.ID...)
	dst = binary.AppendUvarint(dst, uint64(len(e.Code)))
	return append(dst, e.Code...)
}

// EncodeEntry returns the binary encoding of e.
func EncodeEntry(e Entry) []byte {
	return AppendEntry(make([]byte, 0, 24+len(e.ID)+len(e.Code)), e)
}

// DecodeEntry decodes one entry from the front of b and returns the number
// of bytes consumed. The returned entry does not alias b.
func DecodeEntry(b []byte) (Entry, int, error) {
	var e Entry
	off := 0

	next := func(what string) (uint64, error) {
		v, n := binary.Uvarint(b[off:])
		if n <= 0 {
			return 0, fmt.Errorf("%w: bad %s at offset %d", ErrCorruptEntry, what, off)
		}
		off += n
		return v, nil
	}

	cell, err := next("cell")
	if err != nil {
		return e, 0, err
	}
	if cell > uint64(^uint32(0)) {
		return e, 0, fmt.Errorf("%w: cell %d out of range", ErrCorruptEntry, cell)
	}
	e.Cell = uint32(cell)

	if e.Seq, err = next("seq"); err != nil {
		return e, 0, err
	}

	idLen, err := next("id length")
	if err != nil {
		return e, 0, err
	}
	if idLen > uint64(len(b)-off) {
		return e, 0, fmt.Errorf("%w: id length %d exceeds %d bytes", ErrCorruptEntry, idLen, len(b)-off)
	}
	e.ID = string(b[off : off+int(idLen)])
	off += int(idLen)

	codeLen, err := next("code length")
	if err != nil {
		return e, 0, err
	}
	if codeLen > uint64(len(b)-off) {
		return e, 0, fmt.Errorf("%w: code length %d exceeds %d bytes", ErrCorruptEntry, codeLen, len(b)-off)
	}
	e.Code = make([]byte, codeLen)
	copy(e.Code, b[off:off+int(codeLen)])
	off += int(codeLen)

	return e, off, nil
}

// DecodeEntries decodes a concatenation of encoded entries.
func DecodeEntries(b []byte) ([]Entry, error) {
	var out []Entry
	for len(b) > 0 {
		e, n, err := DecodeEntry(b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		b = b[n:]
	}
	return out, nil
}
