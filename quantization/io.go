package quantization

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/visualindex/internal/matio"
	"github.com/hupe1980/visualindex/internal/mmap"
)

// ErrCorruptModel is returned when a quantizer file cannot be parsed.
var ErrCorruptModel = errors.New("quantization: corrupt model file")

const pqVersion = 1

var pqMagic = [4]byte{'V', 'I', 'P', 'Q'}

// LoadCoarseQuantizer loads coarse centroids from a text or binary matrix file.
func LoadCoarseQuantizer(path string) (*CoarseQuantizer, error) {
	m, err := matio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewCoarseQuantizer(m.Cols, m.Data)
}

// WriteCoarseQuantizer writes cq in the binary matrix layout.
func WriteCoarseQuantizer(w io.Writer, cq *CoarseQuantizer) error {
	return matio.WriteBinary(w, &matio.Matrix{Rows: cq.numCells, Cols: cq.dimension, Data: cq.centroids})
}

// LoadProductQuantizer loads a product quantizer file.
//
// Layout (little-endian): magic "VIPQ", uint32 version, uint32 M, uint32 K,
// uint32 subvectorDim, then M*K*subvectorDim float32 values.
func LoadProductQuantizer(path string) (*ProductQuantizer, error) {
	mp, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer mp.Close()

	pq, err := decodeProductQuantizer(mp.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pq, nil
}

func decodeProductQuantizer(data []byte) (*ProductQuantizer, error) {
	const hdr = 20
	if len(data) < hdr || [4]byte(data[:4]) != pqMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptModel)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != pqVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptModel, v)
	}
	m := int(binary.LittleEndian.Uint32(data[8:12]))
	k := int(binary.LittleEndian.Uint32(data[12:16]))
	sub := int(binary.LittleEndian.Uint32(data[16:20]))
	n := m * k * sub
	if n <= 0 || len(data) != hdr+n*4 {
		return nil, fmt.Errorf("%w: shape %dx%dx%d does not match %d bytes", ErrCorruptModel, m, k, sub, len(data))
	}

	codebooks := make([]float32, n)
	payload := data[hdr:]
	for i := range codebooks {
		codebooks[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return NewProductQuantizer(m*sub, m, k, codebooks)
}

// WriteProductQuantizer writes pq in the layout read by LoadProductQuantizer.
func WriteProductQuantizer(w io.Writer, pq *ProductQuantizer) error {
	bw := bufio.NewWriter(w)
	var hdr [20]byte
	copy(hdr[:4], pqMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], pqVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(pq.numSubvectors))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(pq.numCentroids))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(pq.subvectorDim))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var buf [4]byte
	for _, v := range pq.codebooks {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
