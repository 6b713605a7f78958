package storageengine

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"DaemonStore/config"
	"DaemonStore/types"

	"github.com/andreyvit/diff"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig(dir string) config.Config {
	cfg := config.Default(dir)
	cfg.BufferFrames = 64
	return cfg
}

func openEngine(t *testing.T, dir string) *StorageEngine {
	t.Helper()
	se, err := Open(testConfig(dir))
	require.NoError(t, err)
	return se
}

// val returns a 20-byte value: tag, a dash, then the zero-padded key
func val(tag string, key int64) []byte {
	return []byte(fmt.Sprintf("%s-%0*d", tag, 19-len(tag), key))
}

func loadTable(t *testing.T, se *StorageEngine, path string, from, to int64) types.TableID {
	t.Helper()
	id, err := se.OpenTable(path)
	require.NoError(t, err)
	for k := from; k <= to; k++ {
		require.NoError(t, se.Insert(id, k, val("value", k)))
	}
	return id
}

func TestExampleScenario(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()

	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 1000)
	assert.Equal(t, types.TableID(1), id)
	for k := int64(500); k <= 600; k++ {
		require.NoError(t, se.Delete(id, k))
	}

	_, err := se.Find(id, 550, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)

	trx, err := se.Begin()
	require.NoError(t, err)
	v, err := se.Find(id, 10, trx)
	require.NoError(t, err)
	assert.Equal(t, val("value", 10), v)

	// a miss does not end the transaction
	_, err = se.Find(id, 550, trx)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = se.Commit(trx)
	require.NoError(t, err)

	tree, err := se.IndexManager.Get(id)
	require.NoError(t, err)
	shape, err := tree.Shape()
	require.NoError(t, err)
	assert.Equal(t, 2, shape.Height)
	assert.Len(t, shape.Leaves, 16)
}

func TestOpenTableIDs(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()

	id, err := se.OpenTable(filepath.Join(dir, "DATA7"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(7), id)

	again, err := se.OpenTable(filepath.Join(dir, "DATA7"))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := se.OpenTable(filepath.Join(dir, "orders"))
	require.NoError(t, err)
	assert.Equal(t, types.TableID(8), other)

	err = se.Insert(99, 1, val("value", 1))
	assert.ErrorIs(t, err, types.ErrTableNotOpen)
	assert.Equal(t, []types.TableID{7, 8}, se.Stats().Tables)
}

func TestUpdateCommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 50)

	t1, err := se.Begin()
	require.NoError(t, err)
	oldSize, err := se.Update(id, 5, val("first", 5), t1)
	require.NoError(t, err)
	assert.Equal(t, 20, oldSize)
	_, err = se.Update(id, 6, val("first", 6), t1)
	require.NoError(t, err)
	_, err = se.Update(id, 5, val("second", 5), t1)
	require.NoError(t, err)

	v, err := se.Find(id, 5, t1)
	require.NoError(t, err)
	assert.Equal(t, val("second", 5), v)

	_, err = se.Update(id, 7, []byte("short"), t1)
	assert.ErrorIs(t, err, types.ErrValueSize)
	_, err = se.Update(id, 70, val("first", 70), t1)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.True(t, se.TxnManager.IsActive(t1))

	aborted, err := se.Abort(t1)
	require.NoError(t, err)
	assert.Equal(t, t1, aborted)
	for _, k := range []int64{5, 6} {
		v, err := se.Find(id, k, 0)
		require.NoError(t, err)
		assert.Equal(t, val("value", k), v)
	}
	_, err = se.Commit(t1)
	assert.ErrorIs(t, err, types.ErrTrxNotActive)
	_, err = se.Find(id, 5, t1)
	assert.ErrorIs(t, err, types.ErrTrxNotActive)

	t2, err := se.Begin()
	require.NoError(t, err)
	assert.Greater(t, t2, t1)
	_, err = se.Update(id, 9, val("kept", 9), t2)
	require.NoError(t, err)
	_, err = se.Commit(t2)
	require.NoError(t, err)
	assert.Equal(t, 0, se.LockManager.HeldBy(t2))
	require.NoError(t, se.Shutdown())

	se = openEngine(t, dir)
	defer se.Shutdown()
	_, err = se.OpenTable(filepath.Join(dir, "DATA1"))
	require.NoError(t, err)
	v, err = se.Find(id, 9, 0)
	require.NoError(t, err)
	assert.Equal(t, val("kept", 9), v)

	t3, err := se.Begin()
	require.NoError(t, err)
	assert.Greater(t, t3, t2)
}

func TestExclusiveLockBlocksReader(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 20)

	writer, err := se.Begin()
	require.NoError(t, err)
	_, err = se.Update(id, 3, val("new", 3), writer)
	require.NoError(t, err)

	reader, err := se.Begin()
	require.NoError(t, err)
	got := make(chan []byte, 1)
	go func() {
		v, err := se.Find(id, 3, reader)
		if err != nil {
			v = nil
		}
		got <- v
	}()

	assert.Eventually(t, func() bool { return se.LockManager.WaitingFor(reader) == writer },
		2*time.Second, 5*time.Millisecond)
	select {
	case <-got:
		t.Fatal("reader was not blocked by the writer")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = se.Commit(writer)
	require.NoError(t, err)
	select {
	case v := <-got:
		assert.Equal(t, val("new", 3), v)
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke up")
	}
	_, err = se.Commit(reader)
	require.NoError(t, err)
	assert.Empty(t, se.Stats().ActiveTrx)
}

func TestDeadlockAbortsRequester(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 20)

	a, err := se.Begin()
	require.NoError(t, err)
	b, err := se.Begin()
	require.NoError(t, err)

	_, err = se.Update(id, 1, val("a", 1), a)
	require.NoError(t, err)
	_, err = se.Update(id, 2, val("b", 2), b)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := se.Update(id, 2, val("a", 2), a)
		done <- err
	}()
	require.Eventually(t, func() bool { return se.LockManager.WaitingFor(a) == b },
		2*time.Second, 5*time.Millisecond)

	_, err = se.Update(id, 1, val("b", 1), b)
	assert.ErrorIs(t, err, types.ErrDeadlock)
	assert.False(t, se.TxnManager.IsActive(b))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("a stayed blocked after b was aborted")
	}
	_, err = se.Commit(a)
	require.NoError(t, err)

	for _, k := range []int64{1, 2} {
		v, err := se.Find(id, k, 0)
		require.NoError(t, err)
		assert.Equal(t, val("a", k), v)
	}
	assert.Equal(t, uint64(1), se.Stats().Locks.Deadlocks)
}

// copyDir copies the regular files of src into a new directory dst
func copyDir(t *testing.T, src, dst string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dst, 0755))
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, e.Name()), b, 0644))
	}
}

func checksum(t *testing.T, dir, table string) uint64 {
	t.Helper()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id, err := se.OpenTable(filepath.Join(dir, table))
	require.NoError(t, err)
	sum, err := se.DiskManager.TableChecksum(id)
	require.NoError(t, err)
	return sum
}

func mustUpdate(t *testing.T, se *StorageEngine, id types.TableID, key int64, tag string, trx types.TrxID) {
	t.Helper()
	_, err := se.Update(id, key, val(tag, key), trx)
	require.NoError(t, err)
}

func readTrace(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "recovery.trace"))
	require.NoError(t, err)
	return string(b)
}

func assertTrace(t *testing.T, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("recovery trace mismatch:\n%v", diff.LineDiff(want, got))
	}
}

// crashedSession leaves a log with winners 1 and 3 and loser 2 over DATA1
func crashedSession(t *testing.T, dir string) {
	t.Helper()
	se := openEngine(t, dir)
	loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 10)
	require.NoError(t, se.Shutdown())

	se = openEngine(t, dir)
	id, err := se.OpenTable(filepath.Join(dir, "DATA1"))
	require.NoError(t, err)

	t1, _ := se.Begin()
	mustUpdate(t, se, id, 1, "one", t1)
	_, err = se.Commit(t1)
	require.NoError(t, err)

	t2, _ := se.Begin()
	mustUpdate(t, se, id, 2, "two", t2)
	mustUpdate(t, se, id, 3, "two", t2)

	t3, _ := se.Begin()
	_, err = se.Commit(t3)
	require.NoError(t, err)
	require.NoError(t, se.Crash())
}

func TestRecoveryTrace(t *testing.T) {
	dir := t.TempDir()
	crashedSession(t, dir)

	report, err := Recover(testConfig(dir), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.Equal(t, []types.TrxID{1, 3}, report.Winners)
	assert.Equal(t, []types.TrxID{2}, report.Losers)
	assert.Equal(t, []types.TrxID{2}, report.RolledBack)
	assert.Equal(t, 3, report.Redone)
	assert.Equal(t, 2, report.Undone)
	assert.True(t, report.Completed)

	assertTrace(t, `[ANALYSIS] Analysis pass start
[ANALYSIS] Analysis success. Winner: 1 3, Loser: 2
[REDO] Redo pass start
LSN 16 [BEGIN] Transaction id 1
LSN 44 [UPDATE] Transaction id 1 redo apply
LSN 132 [COMMIT] Transaction id 1
LSN 160 [BEGIN] Transaction id 2
LSN 188 [UPDATE] Transaction id 2 redo apply
LSN 276 [UPDATE] Transaction id 2 redo apply
LSN 364 [BEGIN] Transaction id 3
LSN 392 [COMMIT] Transaction id 3
[REDO] Redo pass end
[UNDO] Undo pass start
LSN 276 [UPDATE] Transaction id 2 undo apply
LSN 188 [UPDATE] Transaction id 2 undo apply
[UNDO] Undo pass end
`, readTrace(t, dir))

	// a second run finds every page current and nothing left to undo
	report, err = Recover(testConfig(dir), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.Empty(t, report.Losers)
	assert.Equal(t, 0, report.Redone)
	assert.Equal(t, 5, report.ConsiderRedo)

	assertTrace(t, `[ANALYSIS] Analysis pass start
[ANALYSIS] Analysis success. Winner: 1 2 3, Loser:
[REDO] Redo pass start
LSN 16 [BEGIN] Transaction id 1
LSN 44 [CONSIDER-REDO] Transaction id 1
LSN 132 [COMMIT] Transaction id 1
LSN 160 [BEGIN] Transaction id 2
LSN 188 [CONSIDER-REDO] Transaction id 2
LSN 276 [CONSIDER-REDO] Transaction id 2
LSN 364 [BEGIN] Transaction id 3
LSN 392 [COMMIT] Transaction id 3
LSN 420 [CONSIDER-REDO] Transaction id 2
LSN 516 [CONSIDER-REDO] Transaction id 2
LSN 612 [ROLLBACK] Transaction id 2
[REDO] Redo pass end
[UNDO] Undo pass start
[UNDO] Undo pass end
`, readTrace(t, dir))

	se := openEngine(t, dir)
	defer se.Shutdown()
	id, err := se.OpenTable(filepath.Join(dir, "DATA1"))
	require.NoError(t, err)
	want := map[int64][]byte{1: val("one", 1), 2: val("value", 2), 3: val("value", 3), 4: val("value", 4)}
	for k, v := range want {
		got, err := se.Find(id, k, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got, "key %d", k)
	}
	next, err := se.Begin()
	require.NoError(t, err)
	assert.Equal(t, types.TrxID(4), next)
}

func TestRedoCrashStopsEarly(t *testing.T) {
	dir := t.TempDir()
	crashedSession(t, dir)

	report, err := Recover(testConfig(dir), types.RecoveryRedoCrash, 3)
	require.NoError(t, err)
	assert.False(t, report.Completed)
	assert.Equal(t, 3, report.Records)
	assert.Empty(t, report.RolledBack)

	assertTrace(t, `[ANALYSIS] Analysis pass start
[ANALYSIS] Analysis success. Winner: 1 3, Loser: 2
[REDO] Redo pass start
LSN 16 [BEGIN] Transaction id 1
LSN 44 [UPDATE] Transaction id 1 redo apply
LSN 132 [COMMIT] Transaction id 1
`, readTrace(t, dir))

	report, err = Recover(testConfig(dir), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.Equal(t, []types.TrxID{2}, report.RolledBack)
	assert.Equal(t, 1, report.ConsiderRedo)
}

// TestCrashModesConverge crashes recovery part way in redo and in undo and
// checks that finishing it leaves the same bytes as an uninterrupted run.
func TestCrashModesConverge(t *testing.T) {
	base := t.TempDir()
	se := openEngine(t, base)
	id := loadTable(t, se, filepath.Join(base, "DATA1"), 1, 300)
	require.NoError(t, se.Shutdown())

	se = openEngine(t, base)
	_, err := se.OpenTable(filepath.Join(base, "DATA1"))
	require.NoError(t, err)

	committed, _ := se.Begin()
	for k := int64(1); k <= 20; k++ {
		mustUpdate(t, se, id, k, "c", committed)
	}
	_, err = se.Commit(committed)
	require.NoError(t, err)

	loserA, _ := se.Begin()
	loserC, _ := se.Begin()
	for k := int64(100); k <= 140; k++ {
		mustUpdate(t, se, id, k, "a", loserA)
		if k%10 == 0 {
			mustUpdate(t, se, id, 160+k/10, "c", loserC)
		}
	}
	aborted, _ := se.Begin()
	for k := int64(200); k <= 205; k++ {
		mustUpdate(t, se, id, k, "b", aborted)
	}
	_, err = se.Abort(aborted)
	require.NoError(t, err)
	mustUpdate(t, se, id, 260, "c", loserC)

	last, _ := se.Begin()
	mustUpdate(t, se, id, 290, "d", last)
	_, err = se.Commit(last)
	require.NoError(t, err)
	require.NoError(t, se.Crash())

	runs := map[string][]struct {
		mode types.RecoveryMode
		num  int
	}{
		"plain":      {{types.RecoveryNormal, -1}},
		"redo-crash": {{types.RecoveryRedoCrash, 7}, {types.RecoveryNormal, -1}},
		"undo-crash": {{types.RecoveryUndoCrash, 5}, {types.RecoveryUndoCrash, 9}, {types.RecoveryNormal, -1}},
	}
	sums := make(map[string]uint64)
	for name, steps := range runs {
		dir := filepath.Join(t.TempDir(), name)
		copyDir(t, base, dir)
		for _, step := range steps {
			_, err := Recover(testConfig(dir), step.mode, step.num)
			require.NoError(t, err, name)
		}
		sums[name] = checksum(t, dir, "DATA1")
	}
	assert.Equal(t, sums["plain"], sums["redo-crash"])
	assert.Equal(t, sums["plain"], sums["undo-crash"])

	dir := filepath.Join(t.TempDir(), "check")
	copyDir(t, base, dir)
	se = openEngine(t, dir)
	defer se.Shutdown()
	_, err = se.OpenTable(filepath.Join(dir, "DATA1"))
	require.NoError(t, err)
	expect := func(key int64, tag string) {
		v, err := se.Find(id, key, 0)
		require.NoError(t, err)
		assert.Equal(t, val(tag, key), v, "key %d", key)
	}
	expect(1, "c")
	expect(20, "c")
	expect(120, "value")
	expect(170, "value")
	expect(203, "value")
	expect(260, "value")
	expect(290, "d")
}

func TestConcurrentTransfers(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 64)

	const workers = 8
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w)))
			for done := 0; done < 25; {
				trx, err := se.Begin()
				if err != nil {
					return err
				}
				a, b := int64(rnd.Intn(64)+1), int64(rnd.Intn(64)+1)
				err = transfer(se, id, a, b, trx)
				switch {
				case errors.Is(err, types.ErrDeadlock):
					continue
				case err != nil:
					return err
				}
				if _, err := se.Commit(trx); err != nil {
					return err
				}
				done++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stats := se.Stats()
	assert.Empty(t, stats.ActiveTrx)
	assert.Equal(t, 0, stats.Locks.Locks)
	tree, err := se.IndexManager.Get(id)
	require.NoError(t, err)
	assert.NoError(t, tree.Verify())
}

// transfer reads key a and writes it into key b, keeping b's size
func transfer(se *StorageEngine, id types.TableID, a, b int64, trx types.TrxID) error {
	v, err := se.Find(id, a, trx)
	if err != nil {
		return err
	}
	_, err = se.Update(id, b, v, trx)
	return err
}

func TestCleanShutdownMarker(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 5)
	trx, err := se.Begin()
	require.NoError(t, err)
	_, err = se.Update(1, 1, val("x", 1), trx)
	require.NoError(t, err)
	_, err = se.Commit(trx)
	require.NoError(t, err)
	require.NoError(t, se.Shutdown())

	report, err := Recover(testConfig(dir), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.True(t, report.CleanShutdown)

	// the marker is consumed by the run above
	report, err = Recover(testConfig(dir), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.False(t, report.CleanShutdown)

	crashed := t.TempDir()
	crashedSession(t, crashed)
	report, err = Recover(testConfig(crashed), types.RecoveryNormal, -1)
	require.NoError(t, err)
	assert.False(t, report.CleanShutdown)
}

func TestInsertDoesNotMoveExclusiveLock(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id := loadTable(t, se, filepath.Join(dir, "DATA1"), 1, 20)

	t1, err := se.Begin()
	require.NoError(t, err)
	t2, err := se.Begin()
	require.NoError(t, err)

	// S first, so the X lock is an explicit upgrade rather than an implicit one
	_, err = se.Find(id, 10, t1)
	require.NoError(t, err)
	_, err = se.Update(id, 10, val("t1", 10), t1)
	require.NoError(t, err)

	// shifts key 10 one slot to the right in the same leaf
	require.NoError(t, se.Insert(id, 0, val("value", 0)))

	done := make(chan error, 1)
	go func() {
		_, err := se.Update(id, 10, val("t2", 10), t2)
		done <- err
	}()
	assert.Eventually(t, func() bool { return se.LockManager.WaitingFor(t2) == t1 },
		2*time.Second, time.Millisecond, "writer should wait for the lock holder")
	select {
	case err := <-done:
		t.Fatalf("second writer finished while the key was locked: %v", err)
	default:
	}

	_, err = se.Commit(t1)
	require.NoError(t, err)
	require.NoError(t, <-done)
	_, err = se.Commit(t2)
	require.NoError(t, err)

	v, err := se.Find(id, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, val("t2", 10), v)
}

func TestAbortAfterSplitAndDelete(t *testing.T) {
	dir := t.TempDir()
	se := openEngine(t, dir)
	defer se.Shutdown()
	id, err := se.OpenTable(filepath.Join(dir, "DATA1"))
	require.NoError(t, err)
	for k := int64(2); k <= 300; k += 2 {
		require.NoError(t, se.Insert(id, k, val("value", k)))
	}
	tree, err := se.IndexManager.Get(id)
	require.NoError(t, err)
	before, err := tree.Shape()
	require.NoError(t, err)

	trx, err := se.Begin()
	require.NoError(t, err)
	mustUpdate(t, se, id, 140, "old", trx)
	mustUpdate(t, se, id, 120, "old", trx)

	// split the leaves holding both keys, then remove one of them
	for k := int64(101); k <= 299; k += 2 {
		require.NoError(t, se.Insert(id, k, val("value", k)))
	}
	after, err := tree.Shape()
	require.NoError(t, err)
	assert.Greater(t, len(after.Leaves), len(before.Leaves))
	require.NoError(t, se.Delete(id, 120))

	_, err = se.Abort(trx)
	require.NoError(t, err)
	assert.False(t, se.TxnManager.IsActive(trx))
	assert.Equal(t, 0, se.LockManager.HeldBy(trx))

	v, err := se.Find(id, 140, 0)
	require.NoError(t, err)
	assert.Equal(t, val("value", 140), v)
	_, err = se.Find(id, 120, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, tree.Verify())
}

func TestTraceWithoutFile(t *testing.T) {
	trace, closer, err := openTrace("")
	require.NoError(t, err)
	trace.Info("REDO LSN 16")
	assert.NoError(t, closer.Close())
}
