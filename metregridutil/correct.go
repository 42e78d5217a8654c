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

package metregridutil

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid"
	"github.com/spatialmodel/metregrid/tsfile"
)

// Correct sets attrs in every file matching patterns and returns the
// files that were changed.
func Correct(log logrus.FieldLogger, patterns []string, attrs map[string]string, closeAfter bool) ([]string, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("metregrid: no attributes to change")
	}
	var files []string
	for _, p := range patterns {
		m, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("metregrid: %s: %v", p, err)
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("metregrid: no files match %v", patterns)
	}
	sort.Strings(files)

	w := tsfile.NewWriter(tsfile.NewCache(0), log)
	defer w.CloseAll()
	for _, f := range files {
		if err := w.ChangeAttributes(f, attrs, closeAfter); err != nil {
			return nil, err
		}
		log.WithField("file", f).Info("changed attributes")
	}
	return files, nil
}

// Info writes a description of each of the given time series files to w.
func Info(w io.Writer, paths ...string) error {
	for _, path := range paths {
		f, err := tsfile.Open(path)
		if err != nil {
			return err
		}
		info, err := f.Info()
		f.Close()
		if err != nil {
			return err
		}
		writeInfo(w, info)
	}
	return nil
}

func writeInfo(w io.Writer, info *tsfile.Info) {
	g := info.Geometry
	fmt.Fprintf(w, "%s\n", info.Path)
	fmt.Fprintf(w, "  grid: %d rows x %d cols, %.1f arc minutes\n", len(g.Lat), len(g.Lon), g.CellSizeArcMin)
	if len(g.Lon) > 0 && len(g.Lat) > 0 {
		fmt.Fprintf(w, "  lon: %g to %g\n", g.Lon[0], g.Lon[len(g.Lon)-1])
		fmt.Fprintf(w, "  lat: %g to %g\n", g.Lat[0], g.Lat[len(g.Lat)-1])
	}
	fmt.Fprintf(w, "  variables: %v\n", info.Variables)
	if n := len(info.Times); n > 0 {
		fmt.Fprintf(w, "  time: %d steps, %s to %s\n", n,
			info.Times[0].Format(metregrid.DateFormat), info.Times[n-1].Format(metregrid.DateFormat))
	} else {
		fmt.Fprintf(w, "  time: 0 steps\n")
	}
	keys := make([]string, 0, len(info.Attributes))
	for k := range info.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "  attributes:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "    %s = %s\n", k, info.Attributes[k])
	}
}
