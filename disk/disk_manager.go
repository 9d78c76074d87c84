package disk

import (
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

const PageSize int = 4096

// InvalidPageID is never returned by NewPage. Page 0 is reserved as the file header slot.
const InvalidPageID uint64 = 0

// FlushInstantly should normally be set to true. If it is false then data might be lost even after a successful
// write operation when power loss occurs before os flushes its io buffers. When it is false tests run a lot
// faster thanks to io scheduling of os, and validity of tests does not change unless a test simulates power loss.
const FlushInstantly bool = false

type IDiskManager interface {
	WritePage(data []byte, pageId uint64) error
	ReadPage(pageId uint64, dest []byte) error

	// NewPage allocates a page id. Freed page ids are reused before the file is extended.
	NewPage() (pageId uint64)

	// FreePage gives a page id back to the allocator. Caller must be sure no one keeps a reference to it.
	FreePage(pageId uint64)

	Close() error
}

var _ IDiskManager = &Manager{}

type Manager struct {
	file       *os.File
	filename   string
	lastPageId uint64
	freed      []uint64
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewDiskManager(file string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, err
	}

	d := Manager{file: f, filename: file, logger: logger}

	stats, err := f.Stat()
	if err != nil {
		return nil, err
	}

	filesize := stats.Size()
	logger.Info("db is initializing", zap.String("file", file), zap.Int64("size", filesize))

	if filesize == 0 {
		// first page is reserved, so start from 1
		d.lastPageId = 1
	} else {
		d.lastPageId = uint64((int(filesize) / PageSize) - 1)
	}

	return &d, nil
}

func (d *Manager) WritePage(data []byte, pageId uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) != PageSize {
		return errors.New("written data is not equal to page size")
	}

	if _, err := d.file.WriteAt(data, int64(PageSize)*int64(pageId)); err != nil {
		return err
	}

	if FlushInstantly {
		if err := d.file.Sync(); err != nil {
			return err
		}
	}

	return nil
}

// ReadPage reads the page into dest. Pages that were allocated but never flushed read as zeroes.
func (d *Manager) ReadPage(pageId uint64, dest []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(dest) != PageSize {
		return errors.New("destination buffer is not equal to page size")
	}

	n, err := d.file.ReadAt(dest, int64(PageSize)*int64(pageId))
	if err != nil {
		if errors.Is(err, io.EOF) {
			for i := n; i < PageSize; i++ {
				dest[i] = 0
			}
			return nil
		}
		return err
	}

	return nil
}

func (d *Manager) NewPage() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freed); n > 0 {
		pageId := d.freed[n-1]
		d.freed = d.freed[:n-1]
		return pageId
	}

	d.lastPageId++
	return d.lastPageId
}

func (d *Manager) FreePage(pageId uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.freed = append(d.freed, pageId)
}

func (d *Manager) Close() error {
	return d.file.Close()
}
