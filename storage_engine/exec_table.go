package storageengine

import (
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// OpenTable opens (creating if needed) the table file at path and returns its id.
// Opening an already open table returns the same id.
func (se *StorageEngine) OpenTable(path string) (types.TableID, error) {
	id, err := se.CatalogManager.Register(path)
	if err != nil {
		return -1, err
	}
	canonical, err := se.CatalogManager.Lookup(id)
	if err != nil {
		return -1, err
	}
	if _, err := se.IndexManager.GetOrCreateIndex(canonical, id); err != nil {
		return -1, errors.Wrapf(err, "open table %s", path)
	}
	log.WithField("table", id).Debugf("opened %s", canonical)
	return id, nil
}

// openLogged opens a table named by a log record
func (se *StorageEngine) openLogged(tableID types.TableID) error {
	if _, err := se.IndexManager.Get(tableID); err == nil {
		return nil
	}
	path, err := se.CatalogManager.Lookup(tableID)
	if err != nil {
		return errors.Wrapf(types.ErrCorruptLog, "log names unknown table %d", tableID)
	}
	_, err = se.IndexManager.GetOrCreateIndex(path, tableID)
	return err
}
