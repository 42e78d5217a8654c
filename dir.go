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

package metregrid

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates the directory path and any missing parents.
// It succeeds if path already is a directory and fails if it exists
// but is not one.
func EnsureDir(path string) error {
	fi, err := os.Stat(path)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("metregrid: %s exists and is not a directory", path)
	case !os.IsNotExist(err):
		return fmt.Errorf("metregrid: checking directory %s: %v", path, err)
	}
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("metregrid: creating directory %s: %v", path, err)
	}
	return nil
}

// OutputPath returns the output file path for variable v:
// <dir>/<ShortName>/<ShortName>_<suffix>.nc.
func OutputPath(dir string, v VariableMetadata, suffix string) string {
	return filepath.Join(dir, v.ShortName, v.ShortName+"_"+suffix+".nc")
}

// TempDir returns the staging directory for the output of variable v.
func TempDir(dir string, v VariableMetadata) string {
	return filepath.Join(dir, v.ShortName, "tmp")
}
