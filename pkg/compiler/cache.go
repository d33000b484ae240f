package compiler

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// cacheRecord describes the last successful compilation of a target
type cacheRecord struct {
	Inputs      []string
	Fingerprint string
}

// Cache remembers the inputs of each target so that unchanged targets can be skipped
type Cache struct {
	path    string
	lock    sync.Mutex
	records map[string]cacheRecord
}

// OpenCache loads the cache stored at path. A missing file yields an empty cache. If the file
// can't be decoded, an empty cache is returned together with the error.
func OpenCache(path string) (*Cache, error) {
	cache := &Cache{
		path:    path,
		records: make(map[string]cacheRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return cache, nil
		}
		return cache, eris.Wrapf(err, "failed to read %s", path)
	}

	var records map[string]cacheRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return cache, eris.Wrapf(err, "failed to decode %s", path)
	}

	if records != nil {
		cache.records = records
	}
	return cache, nil
}

// Fresh reports whether target exists, was built with the same fingerprint and is newer than
// every input recorded for it
func (c *Cache) Fresh(target, fingerprint string) (bool, error) {
	c.lock.Lock()
	record, ok := c.records[target]
	c.lock.Unlock()

	if !ok || record.Fingerprint != fingerprint || len(record.Inputs) == 0 {
		return false, nil
	}

	info, err := os.Stat(target)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "failed to check output %s", target)
	}

	var newestInput time.Time
	for _, item := range record.Inputs {
		inputInfo, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if inputInfo.ModTime().After(newestInput) {
			newestInput = inputInfo.ModTime()
		}
	}

	return info.ModTime().After(newestInput), nil
}

// Record stores the inputs used to build target
func (c *Cache) Record(target, fingerprint string, inputs []string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.records[target] = cacheRecord{
		Inputs:      append([]string(nil), inputs...),
		Fingerprint: fingerprint,
	}
}

// Save writes the cache back to disk
func (c *Cache) Save() error {
	c.lock.Lock()
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(c.records)
	c.lock.Unlock()

	if err != nil {
		return eris.Wrap(err, "failed to encode cache")
	}
	return WriteAtomic(c.path, buf.Bytes())
}
