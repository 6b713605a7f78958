package storageengine

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/storage_engine/wal_manager"
	"DaemonStore/types"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
ARIES recovery, run once before the engine accepts work.

Analysis scans the whole log. A transaction that reached COMMIT or ROLLBACK is a
winner; any other is a loser, remembered with the LSN of its last record.

Redo repeats history: every UPDATE and COMPENSATE record is applied to its page
unless the page LSN shows the page already has it (CONSIDER-REDO).

Undo rolls the losers back, always taking the highest pending LSN first:

	UPDATE      restore the before-image, write a CLR whose next-undo LSN is the
	            update's prev LSN, continue at prev LSN
	COMPENSATE  already undone, continue at its next-undo LSN
	BEGIN       write ROLLBACK, the transaction is done

The log is never truncated: LSNs stay byte offsets and page LSNs stay comparable.

Every step is written to the trace file, one line each, in a fixed format.
*/

var errStopPass = errors.New("recovery pass stopped")

// traceFormatter writes the bare message; trace lines have a fixed layout
type traceFormatter struct{}

func (traceFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return append([]byte(e.Message), '\n'), nil
}

func openTrace(path string) (*logrus.Logger, io.Closer, error) {
	trace := logrus.New()
	trace.SetFormatter(traceFormatter{})
	trace.SetLevel(logrus.InfoLevel)
	if path == "" {
		trace.SetOutput(io.Discard)
		return trace, io.NopCloser(nil), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open recovery trace %s", path)
	}
	trace.SetOutput(f)
	return trace, f, nil
}

type loserTrx struct {
	lastLSN types.LSN
}

// undoItem is the next record to undo for one loser
type undoItem struct {
	lsn   types.LSN
	trxID types.TrxID
}

func (a undoItem) Less(than btree.Item) bool {
	b := than.(undoItem)
	if a.lsn != b.lsn {
		return a.lsn < b.lsn
	}
	return a.trxID < b.trxID
}

type recovery struct {
	se     *StorageEngine
	trace  *logrus.Logger
	report *RecoveryReport
	losers map[types.TrxID]*loserTrx
}

func (se *StorageEngine) recover(mode types.RecoveryMode, logNum int) (*RecoveryReport, error) {
	report := &RecoveryReport{Mode: mode}
	trace, closer, err := openTrace(se.cfg.TraceFile)
	if err != nil {
		return report, err
	}
	defer closer.Close()

	cp, err := se.Checkpoints.LoadCheckpoint()
	if err != nil {
		return report, err
	}
	if err := se.Checkpoints.Clear(); err != nil {
		return report, err
	}
	report.CleanShutdown = cp.Clean && cp.LSN == se.LogManager.FlushedLSN()
	if !report.CleanShutdown && cp.Clean {
		log.WithField("checkpoint", cp.LSN).WithField("log_end", se.LogManager.FlushedLSN()).
			Warn("log end moved since the last clean shutdown")
	}

	if se.LogManager.FlushedLSN() <= wal_manager.LogHeaderSize {
		report.Completed = true
		return report, nil
	}
	if logNum < 0 || mode == types.RecoveryNormal {
		logNum = -1
	}

	r := &recovery{se: se, trace: trace, report: report, losers: make(map[types.TrxID]*loserTrx)}
	log.WithField("mode", mode).WithField("log_num", logNum).Info("recovery start")

	if err := r.analysis(); err != nil {
		return report, err
	}
	switch mode {
	case types.RecoveryRedoCrash:
		err = r.redo(logNum)
	case types.RecoveryUndoCrash:
		if err = r.redo(-1); err == nil {
			err = r.undo(logNum)
		}
	default:
		if err = r.redo(-1); err == nil {
			err = r.undo(-1)
		}
	}
	if err != nil {
		return report, err
	}
	report.Completed = logNum < 0

	if err := se.LogManager.Flush(); err != nil {
		return report, err
	}
	if err := se.BufferPool.FlushAll(); err != nil {
		return report, err
	}
	log.WithFields(logrus.Fields{
		"redone":  report.Redone,
		"skipped": report.ConsiderRedo,
		"undone":  report.Undone,
	}).Info("recovery done")
	return report, nil
}

func sortedIDs(m map[types.TrxID]struct{}) []types.TrxID {
	ids := make([]types.TrxID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *recovery) analysis() error {
	r.trace.Info("[ANALYSIS] Analysis pass start")

	winners := make(map[types.TrxID]struct{})
	var maxID types.TrxID
	err := r.se.LogManager.Scan(0, func(rec *wal_manager.Record) error {
		id := rec.TrxID
		if id > maxID {
			maxID = id
		}
		switch rec.Type {
		case wal_manager.RecordBegin:
			r.losers[id] = &loserTrx{lastLSN: rec.LSN}
		case wal_manager.RecordCommit, wal_manager.RecordRollback:
			delete(r.losers, id)
			winners[id] = struct{}{}
		default:
			l, ok := r.losers[id]
			if !ok {
				l = &loserTrx{}
				r.losers[id] = l
			}
			l.lastLSN = rec.LSN
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "analysis")
	}

	losers := make(map[types.TrxID]struct{}, len(r.losers))
	for id := range r.losers {
		losers[id] = struct{}{}
	}
	r.report.Winners = sortedIDs(winners)
	r.report.Losers = sortedIDs(losers)
	r.report.MaxTrxID = maxID
	r.se.LogManager.NoteTrx(maxID)

	var line strings.Builder
	line.WriteString("[ANALYSIS] Analysis success. Winner:")
	for _, id := range r.report.Winners {
		fmt.Fprintf(&line, " %d", id)
	}
	line.WriteString(", Loser:")
	for _, id := range r.report.Losers {
		fmt.Fprintf(&line, " %d", id)
	}
	r.trace.Info(line.String())
	return nil
}

// redo replays the log from the start; limit >= 0 stops after that many records
func (r *recovery) redo(limit int) error {
	r.trace.Info("[REDO] Redo pass start")

	err := r.se.LogManager.Scan(0, func(rec *wal_manager.Record) error {
		if limit >= 0 && r.report.Records >= limit {
			return errStopPass
		}
		r.report.Records++

		switch rec.Type {
		case wal_manager.RecordUpdate, wal_manager.RecordCompensate:
			applied, err := r.redoRecord(rec)
			if err != nil {
				return err
			}
			switch {
			case !applied:
				r.report.ConsiderRedo++
				r.trace.Infof("LSN %d [CONSIDER-REDO] Transaction id %d", rec.LSN, rec.TrxID)
			case rec.Type == wal_manager.RecordUpdate:
				r.report.Redone++
				r.trace.Infof("LSN %d [UPDATE] Transaction id %d redo apply", rec.LSN, rec.TrxID)
			default:
				r.report.Redone++
				r.trace.Infof("LSN %d [CLR] next undo lsn %d", rec.LSN, rec.NextUndoLSN)
			}
		default:
			r.trace.Infof("LSN %d [%s] Transaction id %d", rec.LSN, rec.Type, rec.TrxID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPass) {
		return errors.Wrap(err, "redo")
	}
	if limit < 0 {
		r.trace.Info("[REDO] Redo pass end")
	}
	return nil
}

// imageRange checks that a logged image lies inside the page body
func imageRange(rec *wal_manager.Record) error {
	off := int(rec.Offset)
	if off < page.HeaderSize || off+len(rec.NewImage) > page.PageSize {
		return errors.Wrapf(types.ErrCorruptLog, "LSN %d: image [%d, %d) outside the page body", rec.LSN, off, off+len(rec.NewImage))
	}
	return nil
}

func (r *recovery) redoRecord(rec *wal_manager.Record) (bool, error) {
	if err := imageRange(rec); err != nil {
		return false, err
	}
	if err := r.se.openLogged(rec.TableID); err != nil {
		return false, err
	}
	f, err := r.se.BufferPool.FetchPage(rec.TableID, rec.PageNum)
	if err != nil {
		return false, err
	}
	p := f.Page()
	if p.LSN() >= rec.LSN {
		r.se.BufferPool.UnpinPage(f, false)
		return false, nil
	}
	copy(p.Data[rec.Offset:], rec.NewImage)
	p.SetLSN(rec.LSN)
	r.se.BufferPool.UnpinPage(f, true)
	return true, nil
}

// undo rolls back the losers; limit >= 0 stops after that many records
func (r *recovery) undo(limit int) error {
	r.trace.Info("[UNDO] Undo pass start")

	queue := btree.New(2)
	for id, l := range r.losers {
		queue.ReplaceOrInsert(undoItem{lsn: l.lastLSN, trxID: id})
	}

	visited := 0
	for queue.Len() > 0 {
		if limit >= 0 && visited >= limit {
			return nil
		}
		visited++

		item := queue.DeleteMax().(undoItem)
		l := r.losers[item.trxID]
		rec, err := r.se.LogManager.ReadRecord(item.lsn)
		if err != nil {
			return errors.Wrap(err, "undo")
		}
		if rec.TrxID != item.trxID {
			return errors.Wrapf(types.ErrCorruptLog, "LSN %d belongs to trx %d, not %d", rec.LSN, rec.TrxID, item.trxID)
		}

		next := types.LSN(0)
		switch rec.Type {
		case wal_manager.RecordBegin:
		case wal_manager.RecordCompensate:
			next = rec.NextUndoLSN
		case wal_manager.RecordUpdate:
			if err := r.undoRecord(rec, l); err != nil {
				return err
			}
			r.trace.Infof("LSN %d [UPDATE] Transaction id %d undo apply", rec.LSN, rec.TrxID)
			next = rec.PrevLSN
		default:
			return errors.Wrapf(types.ErrCorruptLog, "LSN %d: %s in the undo chain of trx %d", rec.LSN, rec.Type, rec.TrxID)
		}

		if next == 0 {
			if err := r.rollback(item.trxID, l); err != nil {
				return err
			}
			continue
		}
		queue.ReplaceOrInsert(undoItem{lsn: next, trxID: item.trxID})
	}

	if limit < 0 {
		r.trace.Info("[UNDO] Undo pass end")
	}
	return nil
}

func (r *recovery) undoRecord(rec *wal_manager.Record, l *loserTrx) error {
	if err := imageRange(rec); err != nil {
		return err
	}
	if err := r.se.openLogged(rec.TableID); err != nil {
		return err
	}
	f, err := r.se.BufferPool.FetchPage(rec.TableID, rec.PageNum)
	if err != nil {
		return err
	}
	p := f.Page()

	clr := &wal_manager.Record{
		PrevLSN:     l.lastLSN,
		TrxID:       rec.TrxID,
		Type:        wal_manager.RecordCompensate,
		TableID:     rec.TableID,
		PageNum:     rec.PageNum,
		Offset:      rec.Offset,
		OldImage:    rec.NewImage,
		NewImage:    rec.OldImage,
		NextUndoLSN: rec.PrevLSN,
	}
	lsn, err := r.se.LogManager.Append(clr)
	if err != nil {
		r.se.BufferPool.UnpinPage(f, false)
		return err
	}
	copy(p.Data[rec.Offset:], rec.OldImage)
	p.SetLSN(lsn)
	r.se.BufferPool.UnpinPage(f, true)

	l.lastLSN = lsn
	r.report.Undone++
	return nil
}

func (r *recovery) rollback(trxID types.TrxID, l *loserTrx) error {
	_, err := r.se.LogManager.Append(&wal_manager.Record{PrevLSN: l.lastLSN, TrxID: trxID, Type: wal_manager.RecordRollback})
	if err != nil {
		return err
	}
	delete(r.losers, trxID)
	r.report.RolledBack = append(r.report.RolledBack, trxID)
	return nil
}
