package wal_manager

import (
	"DaemonStore/types"
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// recordReader splits a byte stream of encoded records
type recordReader struct {
	r   *bufio.Reader
	buf []byte
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReaderSize(r, 64*1024), buf: make([]byte, MaxRecordSize)}
}

// next returns the bytes of the next record; the slice is reused by the following call
func (rr *recordReader) next() ([]byte, error) {
	if _, err := io.ReadFull(rr.r, rr.buf[:4]); err != nil {
		return nil, errors.Wrap(types.ErrCorruptLog, err.Error())
	}
	size, err := recordSize(rr.buf)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rr.r, rr.buf[4:size]); err != nil {
		return nil, errors.Wrap(types.ErrCorruptLog, err.Error())
	}
	return rr.buf[:size], nil
}

// ReadRecord returns the record at lsn, from the cache, the buffer, or the file.
func (lm *LogManager) ReadRecord(lsn types.LSN) (*Record, error) {
	if rec, ok := lm.cache.Get(lsn); ok {
		return rec, nil
	}

	lm.mu.Lock()
	if lsn >= lm.flushedLSN {
		off := int(lsn - lm.flushedLSN)
		if off >= len(lm.buf) {
			lm.mu.Unlock()
			return nil, errors.Wrapf(types.ErrCorruptLog, "LSN %d is past the end of the log", lsn)
		}
		rec, err := DecodeRecord(lm.buf[off:])
		lm.mu.Unlock()
		return rec, err
	}
	lm.mu.Unlock()

	if lsn < LogHeaderSize {
		return nil, errors.Wrapf(types.ErrCorruptLog, "LSN %d is inside the log header", lsn)
	}
	var head [4]byte
	if _, err := lm.segment.ReadAt(head[:], int64(lsn)); err != nil {
		return nil, errors.Wrapf(err, "read record at LSN %d", lsn)
	}
	size, err := recordSize(head[:])
	if err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if _, err := lm.segment.ReadAt(b, int64(lsn)); err != nil {
		return nil, errors.Wrapf(err, "read record at LSN %d", lsn)
	}
	rec, err := DecodeRecord(b)
	if err != nil {
		return nil, err
	}
	if rec.LSN != lsn {
		return nil, errors.Wrapf(types.ErrCorruptLog, "record at %d claims LSN %d", lsn, rec.LSN)
	}
	lm.cache.Set(lsn, rec, int64(size))
	return rec, nil
}
