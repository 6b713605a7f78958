package lock_manager

import (
	"DaemonStore/types"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type slotKey struct {
	page types.PageNum
	slot int
}

// memSlots keeps slot owners in memory; every slot holds key == slot index
type memSlots struct {
	mu     sync.Mutex
	owners map[slotKey]types.TrxID
}

func (m *memSlots) SlotOwner(_ types.TableID, page types.PageNum, slot int, key int64) (types.TrxID, error) {
	if key != int64(slot) {
		return 0, ErrStaleSlot
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[slotKey{page, slot}], nil
}

func (m *memSlots) ClaimSlot(_ types.TableID, page types.PageNum, slot int, key int64, trx types.TrxID) error {
	if key != int64(slot) {
		return ErrStaleSlot
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[slotKey{page, slot}] = trx
	return nil
}

type registry struct {
	mu     sync.Mutex
	active map[types.TrxID]bool
}

func (r *registry) IsActive(id types.TrxID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

func (r *registry) finish(id types.TrxID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

func newTestManager(trxs ...types.TrxID) (*LockManager, *memSlots, *registry) {
	slots := &memSlots{owners: make(map[slotKey]types.TrxID)}
	reg := &registry{active: make(map[types.TrxID]bool)}
	for _, id := range trxs {
		reg.active[id] = true
	}
	return NewLockManager(slots, reg), slots, reg
}

// finish ends a transaction the way commit does: leave the active set, then release
func finish(lm *LockManager, reg *registry, id types.TrxID) {
	reg.finish(id)
	lm.Release(id)
}

func waitingFor(t *testing.T, lm *LockManager, waiter, holder types.TrxID) {
	t.Helper()
	assert.Eventually(t, func() bool { return lm.WaitingFor(waiter) == holder },
		2*time.Second, time.Millisecond, "trx %d should wait for trx %d", waiter, holder)
}

func TestBitmap(t *testing.T) {
	b := Mask(0)
	assert.Equal(t, uint64(1)<<63, b[0])
	b.Or(Mask(63))
	b.Or(Mask(64))
	b.Or(Mask(255))
	assert.Equal(t, []int{0, 63, 64, 255}, b.Slots())
	assert.Equal(t, 4, b.Count())
	assert.True(t, b.Intersects(Mask(64)))
	assert.False(t, b.Intersects(Mask(65)))
}

func TestSharedLocksAreCompatible(t *testing.T) {
	lm, _, reg := newTestManager(1, 2, 3)

	require.NoError(t, lm.Acquire(1, 5, 3, 3, 1, types.LockShared))
	require.NoError(t, lm.Acquire(1, 5, 3, 3, 2, types.LockShared))
	require.NoError(t, lm.Acquire(1, 5, 4, 4, 1, types.LockShared))
	assert.Equal(t, 1, lm.HeldBy(1), "second S lock on the page widens the first")

	var g errgroup.Group
	g.Go(func() error { return lm.Acquire(1, 5, 3, 3, 3, types.LockExclusive) })
	waitingFor(t, lm, 3, 1)

	finish(lm, reg, 1)
	waitingFor(t, lm, 3, 2)
	finish(lm, reg, 2)
	require.NoError(t, g.Wait())
	assert.Equal(t, types.TrxID(0), lm.WaitingFor(3))
}

func TestImplicitLockIsConvertedOnConflict(t *testing.T) {
	lm, slots, reg := newTestManager(1, 2)

	require.NoError(t, lm.Acquire(1, 5, 7, 7, 1, types.LockExclusive))
	assert.Equal(t, types.TrxID(1), slots.owners[slotKey{5, 7}])
	assert.Equal(t, 0, lm.HeldBy(1), "first writer gets no lock object")
	assert.Equal(t, 0, lm.GetStats().Entries)

	require.NoError(t, lm.Acquire(1, 5, 7, 7, 1, types.LockShared), "owner reads its own write")

	var g errgroup.Group
	g.Go(func() error { return lm.Acquire(1, 5, 7, 7, 2, types.LockShared) })
	waitingFor(t, lm, 2, 1)
	assert.Equal(t, 1, lm.HeldBy(1), "reader made the implicit lock explicit")
	assert.Equal(t, uint64(1), lm.GetStats().Conversions)

	finish(lm, reg, 1)
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, lm.HeldBy(2))
}

func TestImplicitLockOfFinishedTrxIsIgnored(t *testing.T) {
	lm, _, reg := newTestManager(1, 2)

	require.NoError(t, lm.Acquire(1, 5, 7, 7, 1, types.LockExclusive))
	finish(lm, reg, 1)
	require.NoError(t, lm.Acquire(1, 5, 7, 7, 2, types.LockExclusive))
	assert.Equal(t, uint64(0), lm.GetStats().Waits)
}

func TestUpgradeSharedToExclusive(t *testing.T) {
	lm, _, _ := newTestManager(1)

	require.NoError(t, lm.Acquire(1, 5, 2, 2, 1, types.LockShared))
	require.NoError(t, lm.Acquire(1, 5, 2, 2, 1, types.LockExclusive))
	require.NoError(t, lm.Acquire(1, 5, 2, 2, 1, types.LockExclusive))
	assert.Equal(t, 2, lm.HeldBy(1))

	lm.Release(1)
	assert.Equal(t, 0, lm.GetStats().Entries)
}

func TestDeadlockIsReportedToTheRequester(t *testing.T) {
	lm, _, reg := newTestManager(1, 2)

	require.NoError(t, lm.Acquire(1, 5, 0, 0, 1, types.LockExclusive))
	require.NoError(t, lm.Acquire(1, 5, 1, 1, 2, types.LockExclusive))

	var g errgroup.Group
	g.Go(func() error { return lm.Acquire(1, 5, 1, 1, 1, types.LockExclusive) })
	waitingFor(t, lm, 1, 2)

	err := lm.Acquire(1, 5, 0, 0, 2, types.LockExclusive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDeadlock))
	assert.Equal(t, types.TrxID(0), lm.WaitingFor(2))
	assert.Equal(t, uint64(1), lm.GetStats().Deadlocks)

	finish(lm, reg, 2)
	require.NoError(t, g.Wait())
}

func TestExclusiveLocksSerializeWriters(t *testing.T) {
	const workers = 6
	ids := make([]types.TrxID, workers)
	for i := range ids {
		ids[i] = types.TrxID(i + 1)
	}
	lm, _, reg := newTestManager(ids...)

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := lm.Acquire(1, 9, 4, 4, id, types.LockExclusive); err != nil {
				return err
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			finish(lm, reg, id)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, lm.GetStats().Entries)
}

func TestStaleSlotLeavesNoEntry(t *testing.T) {
	lm, _, _ := newTestManager(1)

	err := lm.Acquire(1, 5, 99, 3, 1, types.LockShared)
	assert.True(t, errors.Is(err, ErrStaleSlot))
	assert.Equal(t, 0, lm.GetStats().Entries)
}

func TestExplicitExclusiveGrantStampsSlot(t *testing.T) {
	lm, slots, reg := newTestManager(1, 2, 3)

	require.NoError(t, lm.Acquire(1, 5, 3, 3, 1, types.LockShared))
	assert.Equal(t, types.TrxID(0), slots.owners[slotKey{5, 3}], "S locks leave the slot alone")
	require.NoError(t, lm.Acquire(1, 5, 3, 3, 1, types.LockExclusive))
	assert.Equal(t, types.TrxID(1), slots.owners[slotKey{5, 3}], "upgrade stamps the slot")

	var g errgroup.Group
	g.Go(func() error { return lm.Acquire(1, 5, 3, 3, 2, types.LockExclusive) })
	waitingFor(t, lm, 2, 1)
	finish(lm, reg, 1)
	require.NoError(t, g.Wait())
	assert.Equal(t, types.TrxID(2), slots.owners[slotKey{5, 3}], "grant after a wait stamps the slot")

	// the record shifted to slot 4 while trx 2 still holds it: the stamp went with it
	slots.owners[slotKey{5, 4}] = 2
	g.Go(func() error { return lm.Acquire(1, 5, 4, 4, 3, types.LockExclusive) })
	waitingFor(t, lm, 3, 2)
	finish(lm, reg, 2)
	require.NoError(t, g.Wait())
}
