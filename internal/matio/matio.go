// Package matio reads and writes row-major float32 tables used by the
// trained model artifacts (codebooks, coarse quantizers, PCA components).
//
// Two layouts are supported:
//
//   - Text: one row per line, values separated by commas and/or whitespace.
//     Blank lines and lines starting with '#' are ignored.
//   - Binary: magic "VIMX", uint32 version, uint32 rows, uint32 cols,
//     followed by rows*cols little-endian float32 values.
package matio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/visualindex/internal/mmap"
)

const (
	binaryVersion = 1
	headerSize    = 16
)

var binaryMagic = [4]byte{'V', 'I', 'M', 'X'}

// ErrCorrupt is returned for malformed model tables.
var ErrCorrupt = errors.New("matio: corrupt matrix")

// Matrix is a dense row-major float32 table.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// Row returns row i as a sub-slice of Data.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// ReadFile loads a matrix from path, detecting the layout by its magic bytes.
func ReadFile(path string) (*Matrix, error) {
	mp, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer mp.Close()

	data := mp.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}

	var m *Matrix
	if IsBinary(data) {
		m, err = decodeBinary(data)
	} else {
		m, err = ReadText(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// IsBinary reports whether data starts with the binary matrix magic.
func IsBinary(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], binaryMagic[:])
}

func decodeBinary(data []byte) (*Matrix, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	rows := int(binary.LittleEndian.Uint32(data[8:12]))
	cols := int(binary.LittleEndian.Uint32(data[12:16]))
	want := headerSize + rows*cols*4
	if rows <= 0 || cols <= 0 || len(data) != want {
		return nil, fmt.Errorf("%w: %dx%d does not match %d bytes", ErrCorrupt, rows, cols, len(data))
	}

	out := make([]float32, rows*cols)
	payload := data[headerSize:]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return &Matrix{Rows: rows, Cols: cols, Data: out}, nil
}

// ReadText parses the text layout. All rows must have the same length.
func ReadText(r io.Reader) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	m := &Matrix{}
	line := 0
	for sc.Scan() {
		line++
		row, err := ParseRow(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		if row == nil {
			continue
		}
		if m.Cols == 0 {
			m.Cols = len(row)
		} else if len(row) != m.Cols {
			return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrCorrupt, line, len(row), m.Cols)
		}
		m.Data = append(m.Data, row...)
		m.Rows++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if m.Rows == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrCorrupt)
	}
	return m, nil
}

// ParseRow parses one text row. It returns nil for blank and comment lines.
func ParseRow(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return nil, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	row := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		row[i] = float32(v)
	}
	return row, nil
}

// WriteBinary writes m in the binary layout.
func WriteBinary(w io.Writer, m *Matrix) error {
	if m.Rows*m.Cols != len(m.Data) {
		return fmt.Errorf("%w: %dx%d does not match %d values", ErrCorrupt, m.Rows, m.Cols, len(m.Data))
	}
	var hdr [headerSize]byte
	copy(hdr[:4], binaryMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(m.Rows))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(m.Cols))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	var buf [4]byte
	for _, v := range m.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteText writes m in the comma-separated text layout.
func WriteText(w io.Writer, m *Matrix) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < m.Rows; i++ {
		if err := WriteRow(bw, m.Row(i)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteRow writes a single comma-separated row terminated by a newline.
func WriteRow(w io.Writer, row []float32) error {
	var sb strings.Builder
	for j, v := range row {
		if j > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}
