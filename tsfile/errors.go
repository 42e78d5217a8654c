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

import "fmt"

// FileExistsConflictError is returned when a file that is open in the cache
// is created again with a different geometry. The open file is left
// unchanged.
type FileExistsConflictError struct {
	Path string
}

func (e *FileExistsConflictError) Error() string {
	return fmt.Sprintf("tsfile: %s is already open with a different grid geometry", e.Path)
}

// IOFlushError is returned when writing or flushing time index Index of
// a file fails. The file is left as it was before the failed write.
type IOFlushError struct {
	Path  string
	Index int
	Err   error
}

func (e *IOFlushError) Error() string {
	return fmt.Sprintf("tsfile: writing time index %d of %s: %v", e.Index, e.Path, e.Err)
}

func (e *IOFlushError) Unwrap() error { return e.Err }
