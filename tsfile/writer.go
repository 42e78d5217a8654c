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

// Package tsfile writes gridded daily time series to netCDF-3 files with
// dimensions (time, lat, lon), one time slice at a time.
package tsfile

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// handle is an open output file.
type handle struct {
	path string
	f    *os.File
	cf   *cdf.File
	geom Geometry
	tu   TimeUnits
	nrec int
}

func (h *handle) close() error {
	if h.f == nil {
		return nil
	}
	err := h.f.Sync()
	if err2 := h.f.Close(); err == nil {
		err = err2
	}
	h.f = nil
	if err != nil {
		return fmt.Errorf("tsfile: closing %s: %v", h.path, err)
	}
	return nil
}

// openHandle opens an existing file for appending.
func openHandle(path string) (*handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("tsfile: %v", err)
	}
	h, err := newHandle(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

func newHandle(path string, f *os.File) (*handle, error) {
	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("tsfile: opening %s: %v", path, err)
	}
	h := &handle{path: path, f: f, cf: cf}
	if h.geom, err = readGeometry(cf); err != nil {
		return nil, fmt.Errorf("%v in %s", err, path)
	}
	units, ok := cf.Header.GetAttribute("time", "units").(string)
	if !ok {
		return nil, fmt.Errorf("tsfile: %s has no time units", path)
	}
	if h.tu, err = ParseTimeUnits(units); err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("tsfile: %v", err)
	}
	h.nrec = int(cf.Header.NumRecs(fi.Size()))
	return h, nil
}

// Writer creates and appends to time series files. Open files are kept in
// a Cache so that consecutive appends to a file do not reopen it.
type Writer struct {
	cache *Cache
	log   logrus.FieldLogger

	// TimeUnits is the time encoding of files created by the writer.
	TimeUnits string
}

// NewWriter returns a writer that keeps its open files in cache and logs
// to log. If cache is nil, DefaultCache is used; if log is nil, the
// standard logrus logger is used.
func NewWriter(cache *Cache, log logrus.FieldLogger) *Writer {
	if cache == nil {
		cache = DefaultCache
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{cache: cache, log: log, TimeUnits: DefaultTimeUnits}
}

// Cache returns the writer's cache.
func (w *Writer) Cache() *Cache { return w.cache }

func absPath(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("tsfile: %v", err)
	}
	return p, nil
}

// Create creates the file at path with the given geometry, data variables
// and global attributes, writes its lat and lon axes, and keeps it open.
// Any existing file at path that is not open is replaced.
// If path is already open with the same axes Create does nothing; if it
// is open with different axes it returns a *FileExistsConflictError.
func (w *Writer) Create(path string, g Geometry, vars []Variable, globalAttrs map[string]string) error {
	path, err := absPath(path)
	if err != nil {
		return err
	}
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()

	if h, ok := w.cache.get(path); ok {
		if h.geom.fingerprint() != g.fingerprint() {
			return &FileExistsConflictError{Path: path}
		}
		return nil
	}

	tu, err := ParseTimeUnits(w.TimeUnits)
	if err != nil {
		return err
	}
	hdr, err := newHeader(g, vars, globalAttrs, tu)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return fmt.Errorf("tsfile: %v", err)
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("tsfile: creating %s: %v", path, err)
	}
	cf, err := cdf.Create(f, hdr)
	if err != nil {
		return fail(err)
	}
	if err := writeFixed(cf, "lat", g.Lat); err != nil {
		return fail(err)
	}
	if err := writeFixed(cf, "lon", g.Lon); err != nil {
		return fail(err)
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	h := &handle{path: path, f: f, cf: cf, geom: g, tu: tu}
	w.log.WithFields(logrus.Fields{
		"path": path,
		"lat":  len(g.Lat),
		"lon":  len(g.Lon),
	}).Debug("created output file")
	w.cache.add(h)
	return nil
}

// lookup returns the open handle for path, opening the file if it is
// not in the cache.
func (w *Writer) lookup(path string) (*handle, error) {
	if h, ok := w.cache.get(path); ok {
		return h, nil
	}
	h, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	w.log.WithFields(logrus.Fields{"path": path, "records": h.nrec}).Debug("reopened output file")
	w.cache.add(h)
	return h, nil
}

// AppendSlice writes field as variable varName at one time index of the
// file at path, and writes date to the time axis at that index.
// The index is indexHint[0] if given and otherwise the current length of
// the time axis. If a new time index is added, the other data variables
// in the file are set to FillValue there. The index used is returned.
// The file is flushed before AppendSlice returns.
func (w *Writer) AppendSlice(path, varName string, date time.Time, field *sparse.DenseArray, indexHint ...int) (int, error) {
	return w.AppendMultiple(path, map[string]*sparse.DenseArray{varName: field}, date, indexHint...)
}

// AppendMultiple is like AppendSlice but writes several variables at the
// same time index. Either all of fields and date are written or, if an
// error occurs, none of them are, and the error is an *IOFlushError.
func (w *Writer) AppendMultiple(path string, fields map[string]*sparse.DenseArray, date time.Time, indexHint ...int) (int, error) {
	path, err := absPath(path)
	if err != nil {
		return -1, err
	}
	if len(fields) == 0 {
		return -1, fmt.Errorf("tsfile: appending to %s: no fields", path)
	}
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()

	h, err := w.lookup(path)
	if err != nil {
		return -1, err
	}
	index := h.nrec
	if len(indexHint) > 0 {
		index = indexHint[0]
	}
	if index < 0 || index > h.nrec {
		return -1, fmt.Errorf("tsfile: %s: time index %d is outside of the time axis with %d records", path, index, h.nrec)
	}

	records := make(map[string][]float32, len(fields))
	for v, field := range fields {
		if axisNames[v] || !h.cf.Header.IsRecordVariable(v) {
			return -1, fmt.Errorf("tsfile: %s has no data variable %q", path, v)
		}
		if field == nil || len(field.Shape) != 2 || field.Shape[0] != len(h.geom.Lat) || field.Shape[1] != len(h.geom.Lon) {
			var shape []int
			if field != nil {
				shape = field.Shape
			}
			return -1, fmt.Errorf("tsfile: %s: %s has shape %v but the file grid is %dx%d",
				path, v, shape, len(h.geom.Lat), len(h.geom.Lon))
		}
		records[v] = encode(field)
	}

	if err := h.writeRecord(index, h.tu.Encode(date), records); err != nil {
		return -1, err
	}
	w.log.WithFields(logrus.Fields{
		"path":  path,
		"date":  date.Format("2006-01-02"),
		"index": index,
	}).Debug("wrote time slice")
	return index, nil
}

// encode converts field to the on-disk representation, mapping FillValue
// and NaN to the float32 fill value.
func encode(field *sparse.DenseArray) []float32 {
	buf := make([]float32, len(field.Elements))
	for i, v := range field.Elements {
		if v == FillValue || math.IsNaN(v) {
			buf[i] = FillValue
			continue
		}
		buf[i] = float32(v)
	}
	return buf
}

// writeRecord writes time value t and records at index, then updates the
// record count and flushes. On failure the file is restored.
func (h *handle) writeRecord(index int, t float64, records map[string][]float32) error {
	fi, err := h.f.Stat()
	if err != nil {
		return &IOFlushError{Path: h.path, Index: index, Err: err}
	}
	size := fi.Size()
	isNew := index == h.nrec

	// Values overwritten at an existing index, for restoring on failure.
	old := make(map[string]interface{})
	if !isNew {
		vars := []string{"time"}
		for v := range records {
			vars = append(vars, v)
		}
		for _, v := range vars {
			buf, err := readRecord(h.cf, v, index)
			if err != nil {
				return &IOFlushError{Path: h.path, Index: index, Err: err}
			}
			old[v] = buf
		}
	}

	err = h.write(index, t, records, isNew)
	if err == nil {
		err = cdf.UpdateNumRecs(h.f)
	}
	if err == nil {
		err = h.f.Sync()
	}
	if err != nil {
		h.restore(index, size, old, isNew)
		return &IOFlushError{Path: h.path, Index: index, Err: err}
	}
	if isNew {
		h.nrec++
	}
	return nil
}

func (h *handle) write(index int, t float64, records map[string][]float32, isNew bool) error {
	if err := writeRecord(h.cf, "time", index, []float64{t}); err != nil {
		return err
	}
	for _, v := range dataVariables(h.cf.Header) {
		buf, ok := records[v]
		if !ok {
			if !isNew {
				continue
			}
			buf = fillRecord(recordSize(h.cf.Header, v))
		}
		if err := writeRecord(h.cf, v, index, buf); err != nil {
			return err
		}
	}
	return nil
}

// restore undoes a failed write: a new record is truncated away and
// overwritten values are written back.
func (h *handle) restore(index int, size int64, old map[string]interface{}, isNew bool) {
	if isNew {
		h.f.Truncate(size)
	} else {
		for v, buf := range old {
			writeRecord(h.cf, v, index, buf)
		}
	}
	cdf.UpdateNumRecs(h.f)
	h.f.Sync()
}

// NumRecords returns the length of the time axis of the file at path.
func (w *Writer) NumRecords(path string) (int, error) {
	path, err := absPath(path)
	if err != nil {
		return 0, err
	}
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	h, err := w.lookup(path)
	if err != nil {
		return 0, err
	}
	return h.nrec, nil
}

// Close flushes and closes the file at path. It does nothing if the file
// is not open. A later write reopens the file.
func (w *Writer) Close(path string) error {
	path, err := absPath(path)
	if err != nil {
		return err
	}
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	return w.cache.remove(path)
}

// CloseAll flushes and closes every open file in the writer's cache.
func (w *Writer) CloseAll() error {
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	return w.cache.removeAll()
}

// ChangeAttributes sets attributes of the existing file at path. Keys of
// attrs are either "name" for global attributes or "variable:name" for
// variable attributes. Attributes that exist are replaced, keeping their
// type; new attributes are stored as text. The file is flushed and, if
// closeAfter is false, left open.
//
// The header of a netCDF-3 file has a fixed size, so the file is
// rewritten to a temporary file that then replaces it.
func (w *Writer) ChangeAttributes(path string, attrs map[string]string, closeAfter bool) error {
	return w.rewrite(path, attrs, nil, closeAfter)
}

// AddVariable adds data variable v to the existing file at path. Existing
// time indices are set to FillValue for the new variable.
func (w *Writer) AddVariable(path string, v Variable) error {
	return w.rewrite(path, nil, []Variable{v}, false)
}

func (w *Writer) rewrite(path string, attrs map[string]string, add []Variable, closeAfter bool) error {
	path, err := absPath(path)
	if err != nil {
		return err
	}
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	if err := w.cache.remove(path); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tsfile: %v", err)
	}
	old, err := cdf.ReadHeader(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("tsfile: reading header of %s: %v", path, err)
	}
	hdr, err := rewrittenHeader(old, attrs, add)
	if err != nil {
		return err
	}
	if err := rewrite(path, hdr); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"path":       path,
		"attributes": len(attrs),
		"variables":  len(add),
	}).Info("rewrote output file header")
	if closeAfter {
		return nil
	}
	_, err = w.lookup(path)
	return err
}
