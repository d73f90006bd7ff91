package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxReadBytes caps SafeReadFile when no explicit limit is given.
const MaxReadBytes int64 = 100 << 20

// ErrSlotTaken is returned when a write-once file already exists.
var ErrSlotTaken = errors.New("file already written")

// SafeReadFile reads a whole file but refuses anything above limit bytes.
// A limit <= 0 means MaxReadBytes.
func SafeReadFile(path string, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxReadBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file %s exceeds %d bytes", path, limit)
	}
	return data, nil
}

// WriteOnce creates path and copies r into it. An existing file is never
// touched; the call fails with ErrSlotTaken instead. A partial file left by a
// failed copy is removed.
func WriteOnce(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %s", ErrSlotTaken, path)
		}
		return 0, err
	}

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return n, err
	}
	return n, nil
}
