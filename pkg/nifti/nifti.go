// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Only rank-3 scalar lattices are supported; a fourth dimension of size one is
// accepted on read. The sform is preferred over the qform when both are present.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"slabrecon/internal/models"
)

const (
	headerSize = 348
	voxOffset  = 352
	magic      = "n+1\x00"
)

// NIfTI-1 datatype codes
const (
	dtUint8   int16 = 2
	dtInt16   int16 = 4
	dtInt32   int16 = 8
	dtFloat32 int16 = 16
	dtFloat64 int16 = 64
	dtInt8    int16 = 256
	dtUint16  int16 = 512
)

// ErrFormat is returned for files that are not valid rank-3 NIfTI-1 volumes
var ErrFormat = errors.New("invalid nifti file")

// header mirrors the 348-byte NIfTI-1 header field for field
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

func datatypeCode(d models.Datatype) (code int16, bitpix int16) {
	switch d {
	case models.Uint8:
		return dtUint8, 8
	case models.Int8:
		return dtInt8, 8
	case models.Int16:
		return dtInt16, 16
	case models.Uint16:
		return dtUint16, 16
	case models.Int32:
		return dtInt32, 32
	case models.Float64:
		return dtFloat64, 64
	default:
		return dtFloat32, 32
	}
}

func datatypeFromCode(code int16) (models.Datatype, error) {
	switch code {
	case dtUint8:
		return models.Uint8, nil
	case dtInt8:
		return models.Int8, nil
	case dtInt16:
		return models.Int16, nil
	case dtUint16:
		return models.Uint16, nil
	case dtInt32:
		return models.Int32, nil
	case dtFloat32:
		return models.Float32, nil
	case dtFloat64:
		return models.Float64, nil
	}
	return 0, fmt.Errorf("%w: unsupported datatype code %d", ErrFormat, code)
}

// Read decodes a NIfTI-1 volume. Gzip-compressed streams are detected from
// their magic bytes.
func Read(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	if peek, err := br.Peek(2); err == nil && peek[0] == 0x1f && peek[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("%w: bad header size", ErrFormat)
		}
		order = binary.BigEndian
	}

	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("%w: magic %q is not a single-file nifti", ErrFormat, h.Magic[:])
	}

	rank := int(h.Dim[0])
	if rank < 3 || rank > 7 {
		return nil, fmt.Errorf("%w: dim[0]=%d", ErrFormat, rank)
	}
	for i := 4; i <= rank; i++ {
		if h.Dim[i] > 1 {
			return nil, fmt.Errorf("%w: only 3D volumes are supported, dim[%d]=%d", ErrFormat, i, h.Dim[i])
		}
	}

	dt, err := datatypeFromCode(h.Datatype)
	if err != nil {
		return nil, err
	}

	v := &models.Volume{
		Width:    int(h.Dim[1]),
		Height:   int(h.Dim[2]),
		Depth:    int(h.Dim[3]),
		Datatype: dt,
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d", ErrFormat, v.Width, v.Height, v.Depth)
	}
	for k := 0; k < 3; k++ {
		v.VoxelSize[k] = math.Abs(float64(h.Pixdim[k+1]))
		if v.VoxelSize[k] == 0 {
			v.VoxelSize[k] = 1
		}
	}
	v.Affine = affineFromHeader(&h, v.VoxelSize)

	// skip extensions up to the data offset
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = voxOffset
	}
	if _, err := io.CopyN(io.Discard, br, int64(offset-headerSize)); err != nil {
		return nil, fmt.Errorf("%w: missing data: %v", ErrFormat, err)
	}

	n := v.Len()
	_, bitpix := datatypeCode(dt)
	bytesPer := int(bitpix) / 8
	buf := make([]byte, n*bytesPer)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("%w: expected %d bytes of voxel data: %v", ErrFormat, len(buf), err)
	}

	v.Data = make([]float64, n)
	for i := 0; i < n; i++ {
		b := buf[i*bytesPer:]
		switch dt {
		case models.Uint8:
			v.Data[i] = float64(b[0])
		case models.Int8:
			v.Data[i] = float64(int8(b[0]))
		case models.Int16:
			v.Data[i] = float64(int16(order.Uint16(b)))
		case models.Uint16:
			v.Data[i] = float64(order.Uint16(b))
		case models.Int32:
			v.Data[i] = float64(int32(order.Uint32(b)))
		case models.Float32:
			v.Data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case models.Float64:
			v.Data[i] = math.Float64frombits(order.Uint64(b))
		}
	}

	if h.SclSlope != 0 && !(h.SclSlope == 1 && h.SclInter == 0) {
		slope, inter := float64(h.SclSlope), float64(h.SclInter)
		for i := range v.Data {
			v.Data[i] = v.Data[i]*slope + inter
		}
		if !dt.IsFloat() {
			v.Datatype = models.Float32
		}
	}

	return v, nil
}

// affineFromHeader builds the voxel-to-world matrix from the sform, the qform,
// or the voxel sizes alone, in that order of preference.
func affineFromHeader(h *header, voxel [3]float64) [4][4]float64 {
	var a [4][4]float64
	a[3] = [4]float64{0, 0, 0, 1}

	if h.SformCode > 0 {
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				a[r][c] = float64(rows[r][c])
			}
		}
		return a
	}

	if h.QformCode > 0 {
		b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
		aq := 1 - (b*b + c*c + d*d)
		if aq < 1e-7 {
			aq = 1 / math.Sqrt(b*b+c*c+d*d)
			b, c, d = b*aq, c*aq, d*aq
			aq = 0
		} else {
			aq = math.Sqrt(aq)
		}
		qfac := float64(h.Pixdim[0])
		if qfac == 0 {
			qfac = 1
		}
		rot := [3][3]float64{
			{aq*aq + b*b - c*c - d*d, 2*b*c - 2*aq*d, 2*b*d + 2*aq*c},
			{2*b*c + 2*aq*d, aq*aq + c*c - b*b - d*d, 2*c*d - 2*aq*b},
			{2*b*d - 2*aq*c, 2*c*d + 2*aq*b, aq*aq + d*d - c*c - b*b},
		}
		scale := [3]float64{voxel[0], voxel[1], voxel[2] * qfac}
		for r := 0; r < 3; r++ {
			for k := 0; k < 3; k++ {
				a[r][k] = rot[r][k] * scale[k]
			}
		}
		a[0][3] = float64(h.QoffsetX)
		a[1][3] = float64(h.QoffsetY)
		a[2][3] = float64(h.QoffsetZ)
		return a
	}

	for k := 0; k < 3; k++ {
		a[k][k] = voxel[k]
	}
	return a
}

// Write encodes v as an uncompressed little-endian NIfTI-1 stream with the
// affine stored in the sform. Integer datatypes are rounded and clamped.
func Write(w io.Writer, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	for _, d := range v.Dims() {
		if d > math.MaxInt16 {
			return fmt.Errorf("%w: dimension %d exceeds the NIfTI-1 limit of %d", ErrFormat, d, math.MaxInt16)
		}
	}
	code, bitpix := datatypeCode(v.Datatype)

	var h header
	h.SizeofHdr = headerSize
	h.Regular = 'r'
	h.Dim = [8]int16{3, int16(v.Width), int16(v.Height), int16(v.Depth), 1, 1, 1, 1}
	h.Datatype = code
	h.Bitpix = bitpix
	h.Pixdim = [8]float32{1, float32(v.VoxelSize[0]), float32(v.VoxelSize[1]), float32(v.VoxelSize[2]), 1, 1, 1, 1}
	h.VoxOffset = voxOffset
	h.SclSlope = 1
	h.XYZTUnits = 2 // mm
	h.SformCode = 2 // aligned
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(v.Affine[0][c])
		h.SrowY[c] = float32(v.Affine[1][c])
		h.SrowZ[c] = float32(v.Affine[2][c])
	}
	copy(h.Descrip[:], "slabrecon")
	copy(h.Magic[:], magic)

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	le := binary.LittleEndian
	buf := make([]byte, 8)
	for _, s := range v.Data {
		var n int
		switch v.Datatype {
		case models.Uint8:
			buf[0] = uint8(clampInt(s, 0, math.MaxUint8))
			n = 1
		case models.Int8:
			buf[0] = uint8(int8(clampInt(s, math.MinInt8, math.MaxInt8)))
			n = 1
		case models.Int16:
			le.PutUint16(buf, uint16(int16(clampInt(s, math.MinInt16, math.MaxInt16))))
			n = 2
		case models.Uint16:
			le.PutUint16(buf, uint16(clampInt(s, 0, math.MaxUint16)))
			n = 2
		case models.Int32:
			le.PutUint32(buf, uint32(int32(clampInt(s, math.MinInt32, math.MaxInt32))))
			n = 4
		case models.Float64:
			le.PutUint64(buf, math.Float64bits(s))
			n = 8
		default:
			le.PutUint32(buf, math.Float32bits(float32(s)))
			n = 4
		}
		if _, err := bw.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed to write voxel data: %w", err)
		}
	}
	return bw.Flush()
}

func clampInt(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	return int64(math.Max(lo, math.Min(hi, math.Round(v))))
}

// IsCompressed reports whether path names a gzip-compressed volume
func IsCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gz")
}

// Load reads the volume stored at path
func Load(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// Save writes v to path, compressing when path ends in .gz
func Save(path string, v *models.Volume) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !IsCompressed(path) {
		return Write(f, v)
	}

	zw := gzip.NewWriter(f)
	if err := Write(zw, v); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
