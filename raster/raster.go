/*
Copyright © 2018 the metregrid authors.
This file is part of metregrid.

metregrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

metregrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with metregrid.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package raster reads and writes single-layer regular grids in the ESRI
// ASCII (.asc) and ESRI float (.flt with a .hdr header) formats.
package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
)

// Header holds the geometry of a raster layer.
type Header struct {
	Rows, Cols int
	CellSize   float64

	// XLL and YLL are the coordinates of the lower-left corner
	// of the lower-left cell.
	XLL, YLL float64

	NoData    float64
	HasNoData bool

	// ByteOrder is only used by the float format.
	ByteOrder binary.ByteOrder
}

// XUL returns the x coordinate of the upper-left corner of the grid.
func (h Header) XUL() float64 { return h.XLL }

// YUL returns the y coordinate of the upper-left corner of the grid.
func (h Header) YUL() float64 { return h.YLL + float64(h.Rows)*h.CellSize }

func (h Header) check(path string) error {
	if h.Rows <= 0 || h.Cols <= 0 {
		return fmt.Errorf("raster: %s: invalid dimensions nrows=%d ncols=%d", path, h.Rows, h.Cols)
	}
	if !(h.CellSize > 0) {
		return fmt.Errorf("raster: %s: invalid cellsize %g", path, h.CellSize)
	}
	return nil
}

func isFloatFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flt", ".hdr":
		return true
	}
	return false
}

func headerPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr"
}

func dataPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".flt"
}

// ReadHeader reads only the header of the raster at path. For the
// float format either the .flt or the .hdr path may be given.
func ReadHeader(path string) (Header, error) {
	if isFloatFormat(path) {
		f, err := os.Open(headerPath(path))
		if err != nil {
			return Header{}, fmt.Errorf("raster: %v", err)
		}
		defer f.Close()
		h, _, err := parseHeader(bufio.NewReader(f), path, false)
		return h, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("raster: %v", err)
	}
	defer f.Close()
	h, _, err := parseHeader(bufio.NewReader(f), path, true)
	return h, err
}

// parseHeader reads "key value" lines. When stopAtData is true, it stops at
// the first line that doesn't start with a letter and returns it so the
// caller can treat it as the first row of data.
func parseHeader(r *bufio.Reader, path string, stopAtData bool) (Header, string, error) {
	h := Header{ByteOrder: binary.LittleEndian}
	var xCenter, yCenter bool
	var pending string
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return h, "", fmt.Errorf("raster: reading header of %s: %v", path, readErr)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			c := trimmed[0]
			isKey := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			if !isKey && stopAtData {
				pending = trimmed
				break
			}
			fields := strings.Fields(trimmed)
			if len(fields) < 2 {
				return h, "", fmt.Errorf("raster: %s: malformed header line %q", path, trimmed)
			}
			key, val := strings.ToLower(fields[0]), fields[1]
			var err error
			switch key {
			case "ncols":
				h.Cols, err = strconv.Atoi(val)
			case "nrows":
				h.Rows, err = strconv.Atoi(val)
			case "xllcorner":
				h.XLL, err = strconv.ParseFloat(val, 64)
			case "yllcorner":
				h.YLL, err = strconv.ParseFloat(val, 64)
			case "xllcenter":
				xCenter = true
				h.XLL, err = strconv.ParseFloat(val, 64)
			case "yllcenter":
				yCenter = true
				h.YLL, err = strconv.ParseFloat(val, 64)
			case "cellsize":
				h.CellSize, err = strconv.ParseFloat(val, 64)
			case "nodata_value":
				h.HasNoData = true
				h.NoData, err = strconv.ParseFloat(val, 64)
			case "byteorder":
				if strings.ToUpper(val) == "MSBFIRST" {
					h.ByteOrder = binary.BigEndian
				}
			}
			if err != nil {
				return h, "", fmt.Errorf("raster: %s: parsing %s: %v", path, key, err)
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	if xCenter {
		h.XLL -= h.CellSize / 2
	}
	if yCenter {
		h.YLL -= h.CellSize / 2
	}
	return h, pending, h.check(path)
}

// Read reads the raster at path into an array of shape [rows, cols], with
// row 0 being the northernmost row. Cells equal to the file's NODATA value
// (or NaN) are set to missing.
func Read(path string, missing float64) (*sparse.DenseArray, Header, error) {
	if isFloatFormat(path) {
		return readFloat(path, missing)
	}
	return readASCII(path, missing)
}

func readASCII(path string, missing float64) (*sparse.DenseArray, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("raster: %v", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	h, first, err := parseHeader(r, path, true)
	if err != nil {
		return nil, h, err
	}
	data := sparse.ZerosDense(h.Rows, h.Cols)
	i := 0
	store := func(tok string) error {
		if i >= len(data.Elements) {
			return fmt.Errorf("raster: %s: more than %d values", path, len(data.Elements))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("raster: %s: parsing value %d: %v", path, i, err)
		}
		data.Elements[i] = h.mask(v, missing)
		i++
		return nil
	}
	for _, tok := range strings.Fields(first) {
		if err := store(tok); err != nil {
			return nil, h, err
		}
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	s.Split(bufio.ScanWords)
	for s.Scan() {
		if err := store(s.Text()); err != nil {
			return nil, h, err
		}
	}
	if err := s.Err(); err != nil {
		return nil, h, fmt.Errorf("raster: reading %s: %v", path, err)
	}
	if i != len(data.Elements) {
		return nil, h, fmt.Errorf("raster: %s: expected %d values but found %d", path, len(data.Elements), i)
	}
	return data, h, nil
}

func readFloat(path string, missing float64) (*sparse.DenseArray, Header, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, h, err
	}
	f, err := os.Open(dataPath(path))
	if err != nil {
		return nil, h, fmt.Errorf("raster: %v", err)
	}
	defer f.Close()
	buf := make([]float32, h.Rows*h.Cols)
	if err := binary.Read(bufio.NewReader(f), h.ByteOrder, buf); err != nil {
		return nil, h, fmt.Errorf("raster: reading %s: %v", dataPath(path), err)
	}
	data := sparse.ZerosDense(h.Rows, h.Cols)
	for i, v := range buf {
		data.Elements[i] = h.mask(float64(v), missing)
	}
	return data, h, nil
}

// mask replaces NODATA and NaN values with missing. The comparison is done
// at float32 precision so NODATA values stored in .flt files still match.
func (h Header) mask(v, missing float64) float64 {
	if math.IsNaN(v) {
		return missing
	}
	if h.HasNoData && (v == h.NoData || float32(v) == float32(h.NoData)) {
		return missing
	}
	return v
}

// Write writes data to path using h for the geometry. The format is chosen
// from the file extension. Cells equal to missing are written as h.NoData,
// or as -9999 if h has no NODATA value.
func Write(path string, data *sparse.DenseArray, h Header, missing float64) error {
	if len(data.Shape) != 2 || data.Shape[0] != h.Rows || data.Shape[1] != h.Cols {
		return fmt.Errorf("raster: writing %s: data shape %v does not match header %dx%d",
			path, data.Shape, h.Rows, h.Cols)
	}
	if !h.HasNoData {
		h.NoData, h.HasNoData = -9999, true
	}
	if h.ByteOrder == nil {
		h.ByteOrder = binary.LittleEndian
	}
	if isFloatFormat(path) {
		return writeFloat(path, data, h, missing)
	}
	return writeASCII(path, data, h, missing)
}

func writeHeaderLines(w io.Writer, h Header) {
	fmt.Fprintf(w, "ncols %d\n", h.Cols)
	fmt.Fprintf(w, "nrows %d\n", h.Rows)
	fmt.Fprintf(w, "xllcorner %s\n", strconv.FormatFloat(h.XLL, 'g', -1, 64))
	fmt.Fprintf(w, "yllcorner %s\n", strconv.FormatFloat(h.YLL, 'g', -1, 64))
	fmt.Fprintf(w, "cellsize %s\n", strconv.FormatFloat(h.CellSize, 'g', -1, 64))
	fmt.Fprintf(w, "NODATA_value %s\n", strconv.FormatFloat(h.NoData, 'g', -1, 64))
}

func writeASCII(path string, data *sparse.DenseArray, h Header, missing float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("raster: %v", err)
	}
	w := bufio.NewWriter(f)
	writeHeaderLines(w, h)
	for j := 0; j < h.Rows; j++ {
		for i := 0; i < h.Cols; i++ {
			v := data.Get(j, i)
			if v == missing {
				v = h.NoData
			}
			if i > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("raster: writing %s: %v", path, err)
	}
	return f.Close()
}

func writeFloat(path string, data *sparse.DenseArray, h Header, missing float64) error {
	hf, err := os.Create(headerPath(path))
	if err != nil {
		return fmt.Errorf("raster: %v", err)
	}
	writeHeaderLines(hf, h)
	order := "LSBFIRST"
	if h.ByteOrder == binary.BigEndian {
		order = "MSBFIRST"
	}
	fmt.Fprintf(hf, "byteorder %s\n", order)
	if err := hf.Close(); err != nil {
		return fmt.Errorf("raster: writing %s: %v", headerPath(path), err)
	}

	buf := make([]float32, len(data.Elements))
	for i, v := range data.Elements {
		if v == missing {
			v = h.NoData
		}
		buf[i] = float32(v)
	}
	f, err := os.Create(dataPath(path))
	if err != nil {
		return fmt.Errorf("raster: %v", err)
	}
	if err := binary.Write(f, h.ByteOrder, buf); err != nil {
		f.Close()
		return fmt.Errorf("raster: writing %s: %v", dataPath(path), err)
	}
	return f.Close()
}
