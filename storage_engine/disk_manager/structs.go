package diskmanager

import (
	"DaemonStore/types"
	"os"
	"sync"
)

const (
	// InitialPages is the page count of a freshly created table file:
	// the header page plus a chain of free pages.
	InitialPages = 2560

	// batchPages bounds how many free pages are written per WriteAt while a file grows.
	batchPages = 64
)

// ############################################# FILE DESCRIPTOR ###########################################

// FileDescriptor represents an open table file
type FileDescriptor struct {
	TableID  types.TableID
	FilePath string
	File     *os.File
	mu       sync.Mutex // serializes header read-modify-write
}

// ############################################# DISK MANAGER #############################################

// DiskManager owns the table files and their free-page lists
type DiskManager struct {
	files map[types.TableID]*FileDescriptor
	mu    sync.RWMutex
}
