package compiler

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/aidarkhanov/nanoid"
	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// WriteAtomic replaces path with data. The content is written to a temporary file in the same
// directory first so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	return writeAll([]outputFile{{path: path, data: data}})
}

type outputFile struct {
	path string
	data []byte
}

// writeAll stages every file in a temporary file before renaming any of them. If staging or the
// first rename fails, none of the files is replaced. Files are renamed in reverse order so the
// first entry (the primary output) is replaced last.
func writeAll(files []outputFile) error {
	staged := make([]string, 0, len(files))
	cleanup := func() {
		for _, tmpPath := range staged {
			os.Remove(tmpPath)
		}
	}

	for _, file := range files {
		tmpPath, err := stage(file.path, file.data)
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, tmpPath)
	}

	for idx := len(files) - 1; idx >= 0; idx-- {
		if err := os.Rename(staged[idx], files[idx].path); err != nil {
			cleanup()
			return eris.Wrapf(err, "failed to replace %s", files[idx].path)
		}
		staged = staged[:idx]
	}
	return nil
}

// stage writes data to a new temporary file next to path and returns its name
func stage(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "failed to create %s", dir)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+nanoid.New()+".tmp")
	handle, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", tmpPath)
	}

	_, err = handle.Write(data)
	if err == nil {
		err = handle.Sync()
	}
	closeErr := handle.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tmpPath)
		return "", eris.Wrapf(err, "failed to write %s", tmpPath)
	}
	return tmpPath, nil
}

// brotliCompress returns data compressed at the best compression level
func brotliCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	brw := brotli.NewWriterLevel(&buf, brotli.BestCompression)

	if _, err := brw.Write(data); err != nil {
		return nil, eris.Wrap(err, "failed to compress")
	}

	if err := brw.Close(); err != nil {
		return nil, eris.Wrap(err, "failed to compress")
	}
	return buf.Bytes(), nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
