package diskmanager

import (
	"DaemonStore/logger"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
This is main file for disk manager (the page store)
It owns:
File descriptors (os.File), one per table
Reading/writing whole pages at id*4096 (ReadAt, WriteAt)
The free page list rooted in the header page

Page 0 of every table file is the header page (free list head, page count, root page).
Free pages form a singly linked list through their first 8 bytes.
When the list is empty the file is doubled and the new pages are chained onto the list.

The buffer pool keeps the header page cached and performs most allocations itself;
AllocPage here is the slow path it falls back to when the list runs dry.
*/

var log = logger.WithComponent("disk")

func NewDiskManager() *DiskManager {
	return &DiskManager{
		files: make(map[types.TableID]*FileDescriptor),
	}
}

// OpenFile opens or creates the file at filePath under tableID.
// A new (or empty) file is initialised with a header page and InitialPages-1 free pages.
func (dm *DiskManager) OpenFile(filePath string, tableID types.TableID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if fd, exists := dm.files[tableID]; exists {
		if fd.FilePath != filePath {
			return errors.Errorf("table %d already open at %s", tableID, fd.FilePath)
		}
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open table file %s", filePath)
	}
	fd := &FileDescriptor{TableID: tableID, FilePath: filePath, File: file}

	var header page.Page
	n, err := file.ReadAt(header.Data[:], 0)
	if err != nil && err != io.EOF {
		file.Close()
		return errors.Wrapf(err, "failed to read header of %s", filePath)
	}

	if n != page.PageSize || header.NumPages() == 0 {
		header = page.Page{}
		header.SetNumPages(1)
		header.SetFreeNum(1)
		header.SetRootNum(0)
		if err := fd.makeFreePages(1, InitialPages, &header); err != nil {
			file.Close()
			return err
		}
		if err := fd.writeAt(0, &header); err != nil {
			file.Close()
			return err
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return errors.Wrap(err, "failed to sync new table file")
		}
		log.WithField("table", tableID).WithField("size", humanize.Bytes(uint64(InitialPages*page.PageSize))).
			Infof("created table file %s", filePath)
	}

	dm.files[tableID] = fd
	return nil
}

// makeFreePages chains pages [next, limit) onto the free list described by header.
// header.NumPages is advanced to limit; the last new page terminates the list.
func (fd *FileDescriptor) makeFreePages(next types.PageNum, limit uint64, header *page.Page) error {
	buf := make([]byte, 0, batchPages*page.PageSize)
	start := next
	var free page.Page

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := fd.File.WriteAt(buf, int64(start)*page.PageSize); err != nil {
			return errors.Wrapf(err, "failed to extend table %d", fd.TableID)
		}
		start += types.PageNum(len(buf) / page.PageSize)
		buf = buf[:0]
		return nil
	}

	for header.NumPages() < limit {
		free = page.Page{}
		if header.NumPages() < limit-1 {
			free.SetNextFree(next + 1)
		}
		buf = append(buf, free.Data[:]...)
		header.SetNumPages(header.NumPages() + 1)
		next++
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (fd *FileDescriptor) writeAt(pageNum types.PageNum, src *page.Page) error {
	if _, err := fd.File.WriteAt(src.Data[:], int64(pageNum)*page.PageSize); err != nil {
		return errors.Wrapf(err, "failed to write page %d of table %d", pageNum, fd.TableID)
	}
	return nil
}

func (fd *FileDescriptor) readAt(pageNum types.PageNum, dst *page.Page) error {
	n, err := fd.File.ReadAt(dst.Data[:], int64(pageNum)*page.PageSize)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "failed to read page %d of table %d", pageNum, fd.TableID)
	}
	// pages past the end of file read as zeroes
	for i := n; i < page.PageSize; i++ {
		dst.Data[i] = 0
	}
	return nil
}

func (dm *DiskManager) descriptor(tableID types.TableID) (*FileDescriptor, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	fd, exists := dm.files[tableID]
	if !exists {
		return nil, errors.Wrapf(types.ErrTableNotOpen, "table %d", tableID)
	}
	return fd, nil
}

// ReadPage reads page pageNum of a table into dst
func (dm *DiskManager) ReadPage(tableID types.TableID, pageNum types.PageNum, dst *page.Page) error {
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return err
	}
	return fd.readAt(pageNum, dst)
}

// WritePage writes src as page pageNum of a table
func (dm *DiskManager) WritePage(tableID types.TableID, pageNum types.PageNum, src *page.Page) error {
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return err
	}
	return fd.writeAt(pageNum, src)
}

// AllocPage pops the head of the on-disk free list, doubling the file first when the list is empty.
func (dm *DiskManager) AllocPage(tableID types.TableID) (types.PageNum, error) {
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return 0, err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	var header page.Page
	if err := fd.readAt(0, &header); err != nil {
		return 0, err
	}

	var ret types.PageNum
	if header.FreeNum() == 0 {
		numPages := header.NumPages()
		ret = numPages
		if numPages == 1 {
			header.SetFreeNum(0)
		} else {
			header.SetFreeNum(ret + 1)
		}
		if err := fd.makeFreePages(ret, 2*numPages, &header); err != nil {
			return 0, err
		}
		log.WithField("table", tableID).Debugf("grew file to %d pages", header.NumPages())
	} else {
		var free page.Page
		ret = header.FreeNum()
		if err := fd.readAt(ret, &free); err != nil {
			return 0, err
		}
		header.SetFreeNum(free.NextFree())
	}

	if err := fd.writeAt(0, &header); err != nil {
		return 0, err
	}
	return ret, nil
}

// FreePage pushes pageNum onto the on-disk free list. lsn is kept in the freed image.
func (dm *DiskManager) FreePage(tableID types.TableID, pageNum types.PageNum, lsn types.LSN) error {
	if pageNum == 0 {
		return errors.New("the header page cannot be freed")
	}
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	var header, free page.Page
	if err := fd.readAt(0, &header); err != nil {
		return err
	}
	free.SetNextFree(header.FreeNum())
	free.SetLSN(lsn)
	header.SetFreeNum(pageNum)

	if err := fd.writeAt(pageNum, &free); err != nil {
		return err
	}
	return fd.writeAt(0, &header)
}

// NumPages returns the page count recorded in the on-disk header
func (dm *DiskManager) NumPages(tableID types.TableID) (uint64, error) {
	var header page.Page
	if err := dm.ReadPage(tableID, 0, &header); err != nil {
		return 0, err
	}
	return header.NumPages(), nil
}

// TableChecksum hashes every page of the table file in page order
func (dm *DiskManager) TableChecksum(tableID types.TableID) (uint64, error) {
	numPages, err := dm.NumPages(tableID)
	if err != nil {
		return 0, err
	}
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return 0, err
	}

	digest := xxhash.New()
	var pg page.Page
	for n := types.PageNum(0); n < numPages; n++ {
		if err := fd.readAt(n, &pg); err != nil {
			return 0, err
		}
		digest.Write(pg.Data[:])
	}
	return digest.Sum64(), nil
}

// IsOpen reports whether tableID has an open file
func (dm *DiskManager) IsOpen(tableID types.TableID) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	_, exists := dm.files[tableID]
	return exists
}

// Tables returns the ids of all open tables
func (dm *DiskManager) Tables() []types.TableID {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	ids := make([]types.TableID, 0, len(dm.files))
	for id := range dm.files {
		ids = append(ids, id)
	}
	return ids
}

// Path returns the file path of an open table
func (dm *DiskManager) Path(tableID types.TableID) (string, error) {
	fd, err := dm.descriptor(tableID)
	if err != nil {
		return "", err
	}
	return fd.FilePath, nil
}

// Sync flushes all file buffers to disk
func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, fd := range dm.files {
		if err := fd.File.Sync(); err != nil {
			return errors.Wrapf(err, "failed to sync table %d", fd.TableID)
		}
	}
	return nil
}

// CloseAll syncs and closes all open files
func (dm *DiskManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for id, fd := range dm.files {
		if err := fd.File.Sync(); err != nil {
			lastErr = err
		}
		if err := fd.File.Close(); err != nil {
			lastErr = err
		}
		delete(dm.files, id)
	}
	return lastErr
}
