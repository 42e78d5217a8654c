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
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
)

// DefaultMaxOpen is the number of files DefaultCache keeps open.
const DefaultMaxOpen = 64

// DefaultCache is the process-wide cache used by writers created without
// their own cache.
var DefaultCache = NewCache(DefaultMaxOpen)

// Cache holds open output files keyed by absolute path. When more than
// the maximum number of files are open the least recently used one is
// closed; it is reopened from disk on its next use.
//
// A Cache serializes all writes through it, so writers sharing a
// cache may be used from several goroutines. Writing one file from
// more than one process, or through more than one Cache, is not
// supported and will corrupt its time axis.
type Cache struct {
	mu sync.Mutex

	lru *lru.Cache

	// open holds the paths in lru.
	open map[string]struct{}

	// evictErr holds the first error from closing an evicted file
	// during removeAll.
	evictErr error

	log logrus.FieldLogger
}

// NewCache returns a cache that keeps at most maxOpen files open.
// maxOpen <= 0 means no limit.
func NewCache(maxOpen int) *Cache {
	c := &Cache{
		lru:  lru.New(maxOpen),
		open: make(map[string]struct{}),
		log:  logrus.StandardLogger(),
	}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		h := value.(*handle)
		delete(c.open, h.path)
		if err := h.close(); err != nil {
			c.log.WithError(err).WithField("path", key).Error("closing output file")
			if c.evictErr == nil {
				c.evictErr = err
			}
		}
	}
	return c
}

// Len returns the number of open files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Paths returns the sorted paths of the open files.
func (c *Cache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.open))
	for p := range c.open {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// The methods below require c.mu to be held.

func (c *Cache) get(path string) (*handle, bool) {
	v, ok := c.lru.Get(path)
	if !ok {
		return nil, false
	}
	return v.(*handle), true
}

// add caches h. A failure to close a file evicted to make room for it is
// logged and does not affect h.
func (c *Cache) add(h *handle) {
	c.lru.Add(h.path, h)
	c.open[h.path] = struct{}{}
	c.evictErr = nil
}

// remove closes and forgets the file at path. It is a no-op if path is
// not open.
func (c *Cache) remove(path string) error {
	h, ok := c.get(path)
	if !ok {
		return nil
	}
	err := h.close()
	c.lru.Remove(path)
	return err
}

// removeAll closes every open file and returns the first error.
func (c *Cache) removeAll() error {
	c.evictErr = nil
	for c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	err := c.evictErr
	c.evictErr = nil
	return err
}
