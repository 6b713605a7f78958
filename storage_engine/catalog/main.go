package catalog

import (
	"DaemonStore/logger"
	"DaemonStore/types"
	"encoding/binary"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

/*
This file is the main access of Catalog Manager
Catalog manager keeps the table id ↔ file path mapping on disk in a bbolt file.

A path whose base name ends in digits ("DATA7") gets that number as its id, the same
id every time it is opened. Other paths, or a numbered path whose id is already taken,
get the next unused id.

Paths below the catalog's own directory are stored relative to it, so a data
directory can be copied or moved as a whole.
*/

var log = logger.WithComponent("catalog")

func NewCatalogManager(path string) (*CatalogManager, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open catalog %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{tablesBucket, pathsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create catalog buckets")
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "bad catalog path %s", path)
	}
	return &CatalogManager{path: path, dir: dir, db: db}, nil
}

// stored is the form of abs kept in the buckets
func (cm *CatalogManager) stored(abs string) string {
	rel, err := filepath.Rel(cm.dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return rel
}

func (cm *CatalogManager) resolve(stored string) string {
	if filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(cm.dir, stored)
}

func encodeID(id types.TableID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(buf []byte) types.TableID {
	return types.TableID(binary.BigEndian.Uint64(buf))
}

// idFromPath returns the number the base name ends with, or 0
func idFromPath(path string) types.TableID {
	base := filepath.Base(path)
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return 0
	}
	id, err := strconv.ParseInt(base[i:], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Register returns the id of the table at path, assigning one on first use.
func (cm *CatalogManager) Register(path string) (types.TableID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.Wrapf(err, "bad table path %s", path)
	}

	key := []byte(cm.stored(abs))

	var id types.TableID
	err = cm.db.Update(func(tx *bbolt.Tx) error {
		tables, paths, meta := tx.Bucket(tablesBucket), tx.Bucket(pathsBucket), tx.Bucket(metaBucket)

		if v := paths.Get(key); v != nil {
			id = decodeID(v)
			return nil
		}

		next := types.TableID(1)
		if v := meta.Get(nextIDKey); v != nil {
			next = decodeID(v)
		}

		id = idFromPath(abs)
		if id == 0 || tables.Get(encodeID(id)) != nil {
			for tables.Get(encodeID(next)) != nil {
				next++
			}
			id = next
		}
		if id >= next {
			next = id + 1
		}

		if err := tables.Put(encodeID(id), key); err != nil {
			return err
		}
		if err := paths.Put(key, encodeID(id)); err != nil {
			return err
		}
		return meta.Put(nextIDKey, encodeID(next))
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to register table %s", path)
	}
	log.WithField("table", id).Debugf("registered %s", abs)
	return id, nil
}

// Lookup returns the path registered under id
func (cm *CatalogManager) Lookup(id types.TableID) (string, error) {
	var path string
	err := cm.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(tablesBucket).Get(encodeID(id))
		if v == nil {
			return errors.Wrapf(types.ErrTableNotOpen, "table %d is not in the catalog", id)
		}
		path = cm.resolve(string(v))
		return nil
	})
	return path, err
}

// Tables lists every registered table in id order
func (cm *CatalogManager) Tables() ([]TableEntry, error) {
	var entries []TableEntry
	err := cm.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tablesBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, TableEntry{ID: decodeID(k), Path: cm.resolve(string(v))})
			return nil
		})
	})
	return entries, err
}

func (cm *CatalogManager) Close() error {
	return cm.db.Close()
}
