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

package tsfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Info summarizes a time series file.
type Info struct {
	Path      string
	Geometry  Geometry
	Variables []string
	Times     []time.Time

	// Attributes holds the global attributes and, under
	// "variable:name" keys, the variable attributes.
	Attributes map[string]string
}

// File is a time series file opened for reading.
type File struct {
	path string
	f    *os.File
	cf   *cdf.File
	h    *handle
}

// Open opens the file at path for reading. Files being written should be
// read only after their last append has returned.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tsfile: %v", err)
	}
	h, err := newHandle(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{path: path, f: f, cf: h.cf, h: h}, nil
}

// Close closes the file.
func (f *File) Close() error { return f.f.Close() }

// NumRecords returns the length of the time axis.
func (f *File) NumRecords() int { return f.h.nrec }

// Geometry returns the spatial axes of the file.
func (f *File) Geometry() Geometry { return f.h.geom }

// Variables returns the names of the data variables.
func (f *File) Variables() []string { return dataVariables(f.cf.Header) }

// Times returns the decoded time axis.
func (f *File) Times() ([]time.Time, error) {
	times := make([]time.Time, f.h.nrec)
	for i := range times {
		buf, err := readRecord(f.cf, "time", i)
		if err != nil {
			return nil, fmt.Errorf("tsfile: %s: %v", f.path, err)
		}
		times[i] = f.h.tu.Decode(buf.([]float64)[0])
	}
	return times, nil
}

// Slice returns variable v at time index i. Fill values are returned as
// FillValue.
func (f *File) Slice(v string, i int) (*sparse.DenseArray, error) {
	if !f.cf.Header.IsRecordVariable(v) || axisNames[v] {
		return nil, fmt.Errorf("tsfile: %s has no data variable %q", f.path, v)
	}
	if i < 0 || i >= f.h.nrec {
		return nil, fmt.Errorf("tsfile: %s: time index %d out of range [0, %d)", f.path, i, f.h.nrec)
	}
	buf, err := readRecord(f.cf, v, i)
	if err != nil {
		return nil, fmt.Errorf("tsfile: %s: %v", f.path, err)
	}
	vals, ok := buf.([]float32)
	if !ok {
		return nil, fmt.Errorf("tsfile: %s: %s has type %T; expected []float32", f.path, v, buf)
	}
	l := f.cf.Header.Lengths(v)
	data := sparse.ZerosDense(l[1], l[2])
	for k, x := range vals {
		if x == FillValue {
			data.Elements[k] = FillValue
			continue
		}
		data.Elements[k] = float64(x)
	}
	return data, nil
}

// Attribute returns attribute a of variable v, or the global attribute a
// if v is empty, formatted as text.
func (f *File) Attribute(v, a string) (string, bool) {
	val := f.cf.Header.GetAttribute(v, a)
	if val == nil {
		return "", false
	}
	return formatAttribute(val), true
}

// Attributes returns all attributes, keyed as in Info.Attributes.
func (f *File) Attributes() map[string]string {
	attrs := make(map[string]string)
	for _, a := range f.cf.Header.Attributes("") {
		attrs[a], _ = f.Attribute("", a)
	}
	for _, v := range f.cf.Header.Variables() {
		for _, a := range f.cf.Header.Attributes(v) {
			attrs[v+":"+a], _ = f.Attribute(v, a)
		}
	}
	return attrs
}

// Info returns a summary of the file.
func (f *File) Info() (*Info, error) {
	times, err := f.Times()
	if err != nil {
		return nil, err
	}
	return &Info{
		Path:       f.path,
		Geometry:   f.Geometry(),
		Variables:  f.Variables(),
		Times:      times,
		Attributes: f.Attributes(),
	}, nil
}

func formatAttribute(val interface{}) string {
	var s []string
	switch v := val.(type) {
	case string:
		return v
	case []float64:
		for _, x := range v {
			s = append(s, strconv.FormatFloat(x, 'g', -1, 64))
		}
	case []float32:
		for _, x := range v {
			s = append(s, strconv.FormatFloat(float64(x), 'g', -1, 32))
		}
	case []int32:
		for _, x := range v {
			s = append(s, strconv.Itoa(int(x)))
		}
	case []int16:
		for _, x := range v {
			s = append(s, strconv.Itoa(int(x)))
		}
	case []uint8:
		for _, x := range v {
			s = append(s, strconv.Itoa(int(x)))
		}
	default:
		return fmt.Sprint(val)
	}
	return strings.Join(s, " ")
}
