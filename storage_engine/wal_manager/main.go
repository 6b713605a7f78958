package wal_manager

import (
	"DaemonStore/logger"
	"DaemonStore/types"
	"encoding/binary"
	"io"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
This file is the log manager

Every record is appended into an in-memory buffer under the log mutex and gets
its LSN there. The buffer is written out (group commit) when the next record
would not fit, or when Flush is called: on commit/abort, and by the buffer pool
before a dirty page whose LSN is not yet durable is written back.

A flush writes the buffered records at their LSN, then rewrites the header with
the new flushed_LSN and the highest transaction id handed out, then fsyncs.
*/

var log = logger.WithComponent("wal")

// OpenLogManager opens (or creates) the log file at filePath
func OpenLogManager(filePath string) (*LogManager, error) {
	segment, err := OpenLogSegment(filePath)
	if err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *Record]{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		segment.Close()
		return nil, errors.Wrap(err, "record cache")
	}

	lm := &LogManager{
		segment:    segment,
		buf:        make([]byte, 0, LogBufferSize),
		flushedLSN: LogHeaderSize,
		cache:      cache,
	}

	if segment.Size < LogHeaderSize {
		if err := lm.writeHeader(); err != nil {
			lm.Close()
			return nil, err
		}
		if err := segment.Sync(); err != nil {
			lm.Close()
			return nil, err
		}
		log.WithField("path", filePath).Info("created log file")
		return lm, nil
	}

	var hdr [LogHeaderSize]byte
	if _, err := segment.ReadAt(hdr[:], 0); err != nil {
		lm.Close()
		return nil, errors.Wrap(err, "read log header")
	}
	lm.flushedLSN = binary.LittleEndian.Uint64(hdr[0:])
	lm.lastTrxID = types.TrxID(binary.LittleEndian.Uint32(hdr[8:]))
	if lm.flushedLSN < LogHeaderSize || int64(lm.flushedLSN) > segment.Size {
		lm.Close()
		return nil, errors.Wrapf(types.ErrCorruptLog, "header flushed LSN %d, file size %d", lm.flushedLSN, segment.Size)
	}

	log.WithField("path", filePath).
		WithField("size", humanize.Bytes(lm.flushedLSN)).
		WithField("last_trx", lm.lastTrxID).
		Info("opened log file")
	return lm, nil
}

func (lm *LogManager) writeHeader() error {
	var hdr [LogHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:], lm.flushedLSN)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(lm.lastTrxID))
	_, err := lm.segment.WriteAt(hdr[:], 0)
	return errors.Wrap(err, "write log header")
}

// Append assigns the record its LSN and buffers it. rec.LSN is set on return.
func (lm *LogManager) Append(rec *Record) (types.LSN, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	size := rec.Size()
	if len(lm.buf)+size > cap(lm.buf) {
		if err := lm.flushLocked(); err != nil {
			return 0, err
		}
	}

	rec.LSN = lm.flushedLSN + types.LSN(len(lm.buf))
	lm.buf = rec.appendTo(lm.buf)
	if rec.TrxID > lm.lastTrxID {
		lm.lastTrxID = rec.TrxID
	}
	lm.appended++

	// images may alias page memory
	cached := *rec
	cached.OldImage = append([]byte(nil), rec.OldImage...)
	cached.NewImage = append([]byte(nil), rec.NewImage...)
	lm.cache.Set(rec.LSN, &cached, int64(size))

	log.WithField("lsn", rec.LSN).WithField("trx", rec.TrxID).Tracef("append %s", rec.Type)
	return rec.LSN, nil
}

// Flush writes the buffered records and the header, then syncs the file.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushLocked()
}

func (lm *LogManager) flushLocked() error {
	if len(lm.buf) > 0 {
		if _, err := lm.segment.WriteAt(lm.buf, int64(lm.flushedLSN)); err != nil {
			return errors.Wrapf(err, "write log at %d", lm.flushedLSN)
		}
		lm.flushedLSN += types.LSN(len(lm.buf))
		lm.buf = lm.buf[:0]
	}
	if err := lm.writeHeader(); err != nil {
		return err
	}
	if err := lm.segment.Sync(); err != nil {
		return errors.Wrap(err, "sync log")
	}
	lm.flushes++
	return nil
}

// FlushedLSN is the end of the durable log: every record with a smaller LSN is on disk
func (lm *LogManager) FlushedLSN() types.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

// NextLSN is the LSN the next appended record would get if it fits the buffer
func (lm *LogManager) NextLSN() types.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN + types.LSN(len(lm.buf))
}

// LastTrxID is the highest transaction id written to (or noted in) the log
func (lm *LogManager) LastTrxID() types.TrxID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastTrxID
}

// NoteTrx raises the recorded transaction id high-water mark
func (lm *LogManager) NoteTrx(id types.TrxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if id > lm.lastTrxID {
		lm.lastTrxID = id
	}
}

// Scan calls fn for every durable record from LSN from onward, in LSN order.
// Scanning stops at the first error returned by fn.
func (lm *LogManager) Scan(from types.LSN, fn func(*Record) error) error {
	if from < LogHeaderSize {
		from = LogHeaderSize
	}
	end := lm.FlushedLSN()

	lm.segment.mu.Lock()
	file := lm.segment.File
	lm.segment.mu.Unlock()
	if file == nil {
		return errors.New("segment not opened")
	}

	r := newRecordReader(io.NewSectionReader(file, int64(from), int64(end-from)))
	lsn := from
	for lsn < end {
		b, err := r.next()
		if err != nil {
			return errors.Wrapf(err, "scan at LSN %d", lsn)
		}
		rec, err := DecodeRecord(b)
		if err != nil {
			return err
		}
		if rec.LSN != lsn {
			return errors.Wrapf(types.ErrCorruptLog, "record at offset %d claims LSN %d", lsn, rec.LSN)
		}
		lm.cache.Set(rec.LSN, rec, int64(len(b)))
		if err := fn(rec); err != nil {
			return err
		}
		lsn += types.LSN(len(b))
	}
	return nil
}

func (lm *LogManager) GetStats() LogStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return LogStats{
		FlushedLSN: lm.flushedLSN,
		Buffered:   len(lm.buf),
		Appended:   lm.appended,
		Flushes:    lm.flushes,
		LastTrxID:  lm.lastTrxID,
	}
}

// Close flushes and closes the log
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	var err error
	if lm.segment.File != nil {
		err = lm.flushLocked()
	}
	lm.mu.Unlock()

	if cerr := lm.segment.Close(); err == nil {
		err = cerr
	}
	lm.cache.Close()
	return err
}

// Discard closes the log without flushing the buffer. Buffered records are lost.
func (lm *LogManager) Discard() error {
	lm.mu.Lock()
	lm.buf = lm.buf[:0]
	lm.mu.Unlock()
	lm.cache.Close()
	return lm.segment.Close()
}
