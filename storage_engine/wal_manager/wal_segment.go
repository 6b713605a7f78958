package wal_manager

import (
	"os"

	"github.com/pkg/errors"
)

/*
This file contains the log segment: the raw file under the log manager

The Two of the important functions

LogSegment.WriteAt: lowest level. Writes raw bytes at an offset and tracks size.
No fsync, data is in the OS buffer, not guaranteed durable.

LogSegment.Sync: calls File.Sync() which forces OS buffer → disk.
After this, data is durable even if process crashes.

Records are written at their LSN, not appended, because bytes past the
header's flushed_LSN are garbage from an interrupted flush and get overwritten.
*/

func OpenLogSegment(filePath string) (*LogSegment, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", filePath)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &LogSegment{FilePath: filePath, File: file, Size: stat.Size()}, nil
}

func (ls *LogSegment) WriteAt(data []byte, off int64) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.File == nil {
		return 0, errors.New("segment not opened")
	}
	n, err := ls.File.WriteAt(data, off)
	if err != nil {
		return n, err
	}
	if end := off + int64(n); end > ls.Size {
		ls.Size = end
	}
	return n, nil
}

func (ls *LogSegment) ReadAt(dst []byte, off int64) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.File == nil {
		return 0, errors.New("segment not opened")
	}
	return ls.File.ReadAt(dst, off)
}

// LogSegment.Sync: calls File.Sync() which forces OS buffer → disk.
func (ls *LogSegment) Sync() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.File == nil {
		return errors.New("segment not opened")
	}
	return ls.File.Sync()
}

// Close closes the segment file
func (ls *LogSegment) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.File != nil {
		err := ls.File.Close()
		ls.File = nil
		return err
	}
	return nil
}
