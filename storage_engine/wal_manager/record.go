package wal_manager

import (
	"DaemonStore/types"
	"encoding/binary"

	"github.com/pkg/errors"
)

/*

Log File
────────────────────────────────────────────────
| Header (16) | Record | Record | Record | ... |
────────────────────────────────────────────────

Each Record (little endian, packed):
───────────────────────────────────────────────────────────────
| size (4) | LSN (8) | prev_LSN (8) | trx_id (4) | type (4) |
───────────────────────────────────────────────────────────────
UPDATE / COMPENSATE continue with
─────────────────────────────────────────────────────────────────────────────────────────
| table_id (8) | page_num (8) | offset (2) | val_size (2) | old image | new image |
─────────────────────────────────────────────────────────────────────────────────────────
and COMPENSATE ends with next_undo_LSN (8).

*/

func (r *Record) hasImages() bool {
	return r.Type == RecordUpdate || r.Type == RecordCompensate
}

// Size is the encoded length of the record
func (r *Record) Size() int {
	n := MainRecordSize
	if r.hasImages() {
		n += UpdatePartSize + 2*len(r.NewImage)
	}
	if r.Type == RecordCompensate {
		n += NextUndoSize
	}
	return n
}

func (r *Record) validate() error {
	if r.Type < RecordBegin || r.Type > RecordCompensate {
		return errors.Errorf("unknown log record type %d", r.Type)
	}
	if r.hasImages() {
		if len(r.OldImage) != len(r.NewImage) {
			return errors.Errorf("image sizes differ: old %d new %d", len(r.OldImage), len(r.NewImage))
		}
		if len(r.NewImage) < types.MinValueSize || len(r.NewImage) > types.MaxValueSize {
			return errors.Wrapf(types.ErrValueSize, "log image of %d bytes", len(r.NewImage))
		}
	}
	return nil
}

// appendTo encodes the record onto dst
func (r *Record) appendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(r.Size()))
	dst = le.AppendUint64(dst, r.LSN)
	dst = le.AppendUint64(dst, r.PrevLSN)
	dst = le.AppendUint32(dst, uint32(r.TrxID))
	dst = le.AppendUint32(dst, uint32(r.Type))
	if r.hasImages() {
		dst = le.AppendUint64(dst, uint64(r.TableID))
		dst = le.AppendUint64(dst, r.PageNum)
		dst = le.AppendUint16(dst, r.Offset)
		dst = le.AppendUint16(dst, uint16(len(r.NewImage)))
		dst = append(dst, r.OldImage...)
		dst = append(dst, r.NewImage...)
	}
	if r.Type == RecordCompensate {
		dst = le.AppendUint64(dst, r.NextUndoLSN)
	}
	return dst
}

// Encode returns the on-disk bytes of the record
func (r *Record) Encode() []byte {
	return r.appendTo(make([]byte, 0, r.Size()))
}

// recordSize peeks at the size field of an encoded record
func recordSize(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, errors.Wrap(types.ErrCorruptLog, "short record size field")
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n < MainRecordSize || n > MaxRecordSize {
		return 0, errors.Wrapf(types.ErrCorruptLog, "record size %d out of range", n)
	}
	return n, nil
}

// DecodeRecord parses one encoded record. The images are copied out of b.
func DecodeRecord(b []byte) (*Record, error) {
	size, err := recordSize(b)
	if err != nil {
		return nil, err
	}
	if len(b) < size {
		return nil, errors.Wrapf(types.ErrCorruptLog, "record needs %d bytes, have %d", size, len(b))
	}

	le := binary.LittleEndian
	r := &Record{
		LSN:     le.Uint64(b[4:]),
		PrevLSN: le.Uint64(b[12:]),
		TrxID:   types.TrxID(le.Uint32(b[20:])),
		Type:    RecordType(le.Uint32(b[24:])),
	}
	if r.Type < RecordBegin || r.Type > RecordCompensate {
		return nil, errors.Wrapf(types.ErrCorruptLog, "unknown record type %d at LSN %d", r.Type, r.LSN)
	}
	if !r.hasImages() {
		if size != MainRecordSize {
			return nil, errors.Wrapf(types.ErrCorruptLog, "%s record at LSN %d has size %d", r.Type, r.LSN, size)
		}
		return r, nil
	}

	if size < MainRecordSize+UpdatePartSize {
		return nil, errors.Wrapf(types.ErrCorruptLog, "truncated update part at LSN %d", r.LSN)
	}
	off := MainRecordSize
	r.TableID = types.TableID(le.Uint64(b[off:]))
	r.PageNum = le.Uint64(b[off+8:])
	r.Offset = le.Uint16(b[off+16:])
	valSize := int(le.Uint16(b[off+18:]))
	off += UpdatePartSize

	want := off + 2*valSize
	if r.Type == RecordCompensate {
		want += NextUndoSize
	}
	if want != size {
		return nil, errors.Wrapf(types.ErrCorruptLog, "record at LSN %d: size %d does not match value size %d", r.LSN, size, valSize)
	}
	r.OldImage = append([]byte(nil), b[off:off+valSize]...)
	r.NewImage = append([]byte(nil), b[off+valSize:off+2*valSize]...)
	if r.Type == RecordCompensate {
		r.NextUndoLSN = le.Uint64(b[off+2*valSize:])
	}
	return r, nil
}
