package catalog

import (
	"DaemonStore/types"

	"go.etcd.io/bbolt"
)

var (
	tablesBucket = []byte("tables") // id → path
	pathsBucket  = []byte("paths")  // path → id
	metaBucket   = []byte("meta")
	nextIDKey    = []byte("next_id")
)

// CatalogManager maps table ids to table file paths. The mapping is persisted so that
// recovery can reopen every table a log record names, even one not opened this run.
type CatalogManager struct {
	path string
	dir  string // table paths under dir are stored relative to it
	db   *bbolt.DB
}

type TableEntry struct {
	ID   types.TableID
	Path string
}
