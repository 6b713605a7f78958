// Seed program: loads a table with fixed-size records, then optionally runs concurrent
// transactional update workers against it.
// Run: go run ./cmd/seed --data-dir data --keys 1000 --workers 4
// Then inspect: go run ./cmd/inspect data/DATA1
// With --crash the process leaves the files as a kill would; run ./cmd/recover next.
package main

import (
	"DaemonStore/cli"
	storageengine "DaemonStore/storage_engine"
	"DaemonStore/types"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	tableName  = "DATA1"
	numKeys    = 1000
	valueSize  = 20
	workers    = 0
	txns       = 100
	updates    = 4
	abortEvery = 0
	crash      = false
)

func main() {
	root := cli.NewRootCommand("seed", "Load a table and run a transactional workload")
	root.Args = cobra.NoArgs
	root.RunE = seedRun

	fs := root.Flags()
	fs.StringVar(&tableName, "table", tableName, "table file, relative to the data directory")
	fs.IntVar(&numKeys, "keys", numKeys, "keys 1..N to insert")
	fs.IntVar(&valueSize, "value-size", valueSize, "bytes per value")
	fs.IntVar(&workers, "workers", workers, "concurrent update workers")
	fs.IntVar(&txns, "txns", txns, "transactions per worker")
	fs.IntVar(&updates, "updates", updates, "updates per transaction")
	fs.IntVar(&abortEvery, "abort-every", abortEvery, "abort every n-th transaction of a worker instead of committing")
	fs.BoolVar(&crash, "crash", crash, "exit without flushing, as if killed")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// value pads "tag-key" with dots to exactly valueSize bytes
func value(tag string, key int64) []byte {
	v := bytes.Repeat([]byte{'.'}, valueSize)
	copy(v, fmt.Sprintf("%s-%d", tag, key))
	return v
}

func seedRun(cmd *cobra.Command, args []string) error {
	if valueSize < 1 || valueSize > types.MaxValueSize {
		return errors.Errorf("--value-size must be between 1 and %d", types.MaxValueSize)
	}
	cfg := cli.Config()
	se, err := storageengine.Open(cfg)
	if err != nil {
		return err
	}

	path := tableName
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.DataDir, path)
	}
	table, err := se.OpenTable(path)
	if err != nil {
		se.Shutdown()
		return err
	}

	start := time.Now()
	inserted := 0
	for k := int64(1); k <= int64(numKeys); k++ {
		err := se.Insert(table, k, value("seed", k))
		if errors.Is(err, types.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			se.Shutdown()
			return err
		}
		inserted++
	}
	fmt.Printf("inserted %s keys into table %d in %s\n", humanize.Comma(int64(inserted)), table, time.Since(start))

	if workers > 0 && numKeys > 0 {
		if err := runWorkers(se, table); err != nil {
			se.Shutdown()
			return err
		}
	}

	if crash {
		fmt.Println("crashing without flushing the buffer pool")
		return se.Crash()
	}
	return se.Shutdown()
}

func runWorkers(se *storageengine.StorageEngine, table types.TableID) error {
	var committed, aborted, deadlocks int64
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w) + 1))
			tag := fmt.Sprintf("w%d", w)
			for i := 1; i <= txns; {
				trx, err := se.Begin()
				if err != nil {
					return err
				}
				err = updateRandom(se, table, trx, rnd, tag)
				if errors.Is(err, types.ErrDeadlock) {
					// the engine already aborted trx
					atomic.AddInt64(&deadlocks, 1)
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "worker %d", w)
				}

				if abortEvery > 0 && i%abortEvery == 0 {
					_, err = se.Abort(trx)
					atomic.AddInt64(&aborted, 1)
				} else {
					_, err = se.Commit(trx)
					atomic.AddInt64(&committed, 1)
				}
				if err != nil {
					return err
				}
				i++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("%d workers: %d committed, %d aborted, %d deadlock retries in %s\n",
		workers, committed, aborted, deadlocks, time.Since(start))
	return nil
}

func updateRandom(se *storageengine.StorageEngine, table types.TableID, trx types.TrxID, rnd *rand.Rand, tag string) error {
	for u := 0; u < updates; u++ {
		key := int64(rnd.Intn(numKeys) + 1)
		_, err := se.Update(table, key, value(tag, key), trx)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
