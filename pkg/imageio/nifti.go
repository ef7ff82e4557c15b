package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"medimagetools/internal/models"
)

// NIfTI-1 datatype codes.
const (
	niftiUint8   = 2
	niftiFloat32 = 16
)

// niftiHeader is the 348-byte NIfTI-1 header in file order.
type niftiHeader struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte
	Dim          [8]int16
	IntentP1     float32
	IntentP2     float32
	IntentP3     float32
	IntentCode   int16
	Datatype     int16
	Bitpix       int16
	SliceStart   int16
	Pixdim       [8]float32
	VoxOffset    float32
	SclSlope     float32
	SclInter     float32
	SliceEnd     int16
	SliceCode    byte
	XYZTUnits    byte
	CalMax       float32
	CalMin       float32
	SliceDur     float32
	TOffset      float32
	GLMax        int32
	GLMin        int32
	Descrip      [80]byte
	AuxFile      [24]byte
	QformCode    int16
	SformCode    int16
	QuaternB     float32
	QuaternC     float32
	QuaternD     float32
	QoffsetX     float32
	QoffsetY     float32
	QoffsetZ     float32
	SrowX        [4]float32
	SrowY        [4]float32
	SrowZ        [4]float32
	IntentName   [16]byte
	Magic        [4]byte
}

func newHeader(g models.Geometry, datatype, bitpix int16, descrip string) niftiHeader {
	h := niftiHeader{
		SizeofHdr: 348,
		Regular:   'r',
		Datatype:  datatype,
		Bitpix:    bitpix,
		VoxOffset: 352,
		SclSlope:  1,
		XYZTUnits: 2, // mm
		SformCode: 1, // scanner
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim[0] = 3
	h.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(g.Size[i])
		h.Pixdim[i+1] = float32(g.Spacing[i])
	}
	copy(h.Descrip[:], descrip)

	// DICOM patient space is LPS, NIfTI world space is RAS.
	flip := [3]float64{-1, -1, 1}
	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(flip[r] * g.Direction[r*3+c] * g.Spacing[c])
		}
		rows[r][3] = float32(flip[r] * g.Origin[r])
	}
	return h
}

// Writer writes volumes as NIfTI-1 single files.
type Writer struct {
	// Compress gzips the output and appends ".gz" to the file name.
	Compress bool
}

// Path returns the file name used for base inside dir.
func (w Writer) Path(dir, base string) string {
	name := base + ".nii"
	if w.Compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// WriteImage writes img as float32 voxels and returns the bytes written.
func (w Writer) WriteImage(path string, img *models.Image) (int64, error) {
	h := newHeader(img.Geometry, niftiFloat32, 32, string(img.Modality))
	data := make([]float32, len(img.Data))
	for i, v := range img.Data {
		data[i] = float32(v)
	}
	return w.write(path, h, data)
}

// WriteMask writes m as uint8 voxels and returns the bytes written.
func (w Writer) WriteMask(path string, m *models.Mask, descrip string) (int64, error) {
	h := newHeader(m.Geometry, niftiUint8, 8, descrip)
	return w.write(path, h, m.Data)
}

func (w Writer) write(path string, h niftiHeader, data interface{}) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var out io.Writer = f
	var zw *gzip.Writer
	if w.Compress || strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		out = zw
	}
	bw := bufio.NewWriter(out)

	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	// Empty extension block.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return 0, err
	}
	if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return 0, err
		}
	}

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
