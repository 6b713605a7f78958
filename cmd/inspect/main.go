// Inspect a table file: header page, tree shape and per-page checksums.
// Usage: go run ./cmd/inspect <table-file>
// Example: go run ./cmd/inspect data/DATA1
package main

import (
	"DaemonStore/cli"
	bplus "DaemonStore/storage_engine/access/indexfile_manager/bplustree"
	"DaemonStore/storage_engine/bufferpool"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const inspectTable types.TableID = 1

var showPages = false

func main() {
	root := cli.NewRootCommand("inspect <table-file>", "Dump the pages and tree shape of a table file")
	root.Args = cobra.ExactArgs(1)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return inspect(os.Stdout, args[0])
	}
	root.Flags().BoolVar(&showPages, "pages", showPages, "list every page with its LSN and checksum")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func inspect(w io.Writer, path string) error {
	// OpenFile would create a missing file
	if _, err := os.Stat(path); err != nil {
		return err
	}
	dm := diskmanager.NewDiskManager()
	if err := dm.OpenFile(path, inspectTable); err != nil {
		return err
	}
	defer dm.CloseAll()

	var header page.Page
	if err := dm.ReadPage(inspectTable, 0, &header); err != nil {
		return errors.Wrap(err, "read header page")
	}
	free, err := freeList(dm, &header)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Table file: %s\n", path)
	fmt.Fprintf(w, "  pages: %d (%s), free: %d, root: %d\n",
		header.NumPages(), humanize.Bytes(header.NumPages()*page.PageSize), len(free), header.RootNum())

	tree := bplus.OpenBPlusTree(inspectTable, bufferpool.NewBufferPool(32, dm))
	shape, err := tree.Shape()
	if err != nil {
		return errors.Wrap(err, "walk tree")
	}
	if shape.Root == 0 {
		fmt.Fprintln(w, "  (empty tree)")
	} else {
		fmt.Fprintf(w, "  height: %d, internal nodes: %d, leaves: %d, keys: %s\n\n",
			shape.Height, shape.Internals, len(shape.Leaves), humanize.Comma(int64(shape.Keys)))

		tw := tablewriter.NewWriter(w)
		tw.SetAutoFormatHeaders(false)
		tw.SetHeader([]string{"leaf", "page", "keys", "min", "max", "free space"})
		for i, l := range shape.Leaves {
			tw.Append([]string{
				strconv.Itoa(i),
				strconv.FormatUint(l.PageNum, 10),
				strconv.Itoa(l.NumKeys),
				strconv.FormatInt(l.MinKey, 10),
				strconv.FormatInt(l.MaxKey, 10),
				humanize.Bytes(uint64(l.FreeSpace)),
			})
		}
		tw.Render()
	}

	sum, err := dm.TableChecksum(inspectTable)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n  file checksum: %016x\n", sum)
	if showPages {
		return pageTable(w, dm, &header, free, shape)
	}
	return nil
}

func freeList(dm *diskmanager.DiskManager, header *page.Page) (map[types.PageNum]bool, error) {
	free := make(map[types.PageNum]bool)
	var pg page.Page
	for n := header.FreeNum(); n != 0; n = pg.NextFree() {
		if free[n] || n >= header.NumPages() {
			return nil, errors.Wrapf(types.ErrCorruptPage, "free list loops or leaves the file at page %d", n)
		}
		free[n] = true
		if err := dm.ReadPage(inspectTable, n, &pg); err != nil {
			return nil, err
		}
	}
	return free, nil
}

func pageTable(w io.Writer, dm *diskmanager.DiskManager, header *page.Page, free map[types.PageNum]bool, shape bplus.TreeShape) error {
	leaves := make(map[types.PageNum]bool, len(shape.Leaves))
	for _, l := range shape.Leaves {
		leaves[l.PageNum] = true
	}

	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"page", "kind", "lsn", "keys", "checksum"})
	var pg page.Page
	for n := types.PageNum(0); n < header.NumPages(); n++ {
		if err := dm.ReadPage(inspectTable, n, &pg); err != nil {
			return err
		}
		kind, keys := "internal", strconv.Itoa(pg.NumKeys())
		switch {
		case n == 0:
			kind, keys = "header", ""
		case free[n]:
			kind, keys = "free", ""
		case leaves[n]:
			kind = "leaf"
		case !pg.IsLeaf() && pg.NumKeys() == 0:
			kind, keys = "unused", ""
		}
		tw.Append([]string{
			strconv.FormatUint(n, 10),
			kind,
			strconv.FormatUint(pg.LSN(), 10),
			keys,
			fmt.Sprintf("%016x", pg.Checksum()),
		})
	}
	fmt.Fprintln(w)
	tw.Render()
	return nil
}
