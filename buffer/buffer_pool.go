package buffer

import (
	"fmt"
	"sync"

	"burrow/common"
	"burrow/disk"
	"burrow/disk/pages"

	"go.uber.org/zap"
)

type Pool interface {
	GetPage(pageId uint64) (*pages.RawPage, error)
	Unpin(pageId uint64, isDirty bool) bool
	FlushAll() error

	// NewPage creates a new page and pins it.
	NewPage() (page *pages.RawPage, err error)

	// FreePage releases a page's identity. Panics if the page is still pinned.
	FreePage(pageId uint64)

	// EmptyFrameSize returns the number of empty frames which do not hold data of any physical page.
	EmptyFrameSize() int
}

type frame struct {
	page *pages.RawPage
}

var _ Pool = &BufferPool{}

type BufferPool struct {
	poolSize    int
	frames      []*frame
	pageMap     map[uint64]int // physical page_id => frame index which keeps that page
	emptyFrames []int          // list of indexes that points to empty frames in the pool
	Replacer    IReplacer
	DiskManager disk.IDiskManager
	lock        sync.Mutex
	logger      *zap.Logger
}

func NewBufferPool(dbFile string, poolSize int, logger *zap.Logger) *BufferPool {
	if logger == nil {
		logger = zap.NewNop()
	}

	dm, err := disk.NewDiskManager(dbFile, logger)
	common.PanicIfErr(err)

	return NewBufferPoolWithDM(poolSize, dm, logger)
}

func NewBufferPoolWithDM(poolSize int, dm disk.IDiskManager, logger *zap.Logger) *BufferPool {
	if logger == nil {
		logger = zap.NewNop()
	}

	emptyFrames := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		emptyFrames[i] = i
	}

	return &BufferPool{
		poolSize:    poolSize,
		frames:      make([]*frame, poolSize),
		pageMap:     map[uint64]int{},
		emptyFrames: emptyFrames,
		Replacer:    NewLruReplacer(),
		DiskManager: dm,
		logger:      logger,
	}
}

func (b *BufferPool) GetPage(pageId uint64) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		b.pin(pageId)
		return b.frames[frameIdx].page, nil
	}

	frameIdx, err := b.reserveFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameIdx].page
	p.PageId = pageId
	b.pageMap[pageId] = frameIdx
	b.pin(pageId)

	if err := b.DiskManager.ReadPage(pageId, p.GetData()); err != nil {
		delete(b.pageMap, pageId)
		p.DecrPinCount()
		b.emptyFrames = append(b.emptyFrames, frameIdx)
		return nil, fmt.Errorf("ReadPage failed: %w", err)
	}

	return p, nil
}

func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	pageId := b.DiskManager.NewPage()

	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, err := b.reserveFrame()
	if err != nil {
		b.DiskManager.FreePage(pageId)
		return nil, err
	}

	p := b.frames[frameIdx].page
	p.PageId = pageId
	for i := range p.Data {
		p.Data[i] = 0
	}

	// a fresh page is dirty from the start so that an eviction materializes it on disk
	p.SetDirty()

	b.pageMap[pageId] = frameIdx
	b.pin(pageId)

	return p, nil
}

// reserveFrame returns the index of a frame that is free to be overwritten. It pops an empty frame if
// there is one and evicts a victim otherwise. Caller must hold b.lock.
func (b *BufferPool) reserveFrame() (int, error) {
	if n := len(b.emptyFrames); n > 0 {
		frameIdx := b.emptyFrames[n-1]
		b.emptyFrames = b.emptyFrames[:n-1]
		if b.frames[frameIdx] == nil {
			b.frames[frameIdx] = &frame{page: pages.NewRawPage(disk.InvalidPageID)}
		}
		return frameIdx, nil
	}

	victimIdx, err := b.Replacer.ChooseVictim()
	if err != nil {
		return 0, err
	}

	victim := b.frames[victimIdx].page
	if victim.IsDirty() {
		b.logger.Debug("flushing victim page", zap.Uint64("pageId", victim.GetPageId()))
		if err := b.DiskManager.WritePage(victim.GetData(), victim.GetPageId()); err != nil {
			b.Replacer.Unpin(victimIdx)
			return 0, fmt.Errorf("victim flush failed: %w", err)
		}
		victim.SetClean()
	}

	delete(b.pageMap, victim.GetPageId())
	return victimIdx, nil
}

// pin increments page's pin count and pins the frame that keeps the page to avoid it being chosen as victim.
func (b *BufferPool) pin(pageId uint64) {
	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		panic(fmt.Sprintf("pinned a page which does not exist: %v", pageId))
	}

	b.frames[frameIdx].page.IncrPinCount()
	b.Replacer.Pin(frameIdx)
}

func (b *BufferPool) Unpin(pageId uint64, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		panic(fmt.Sprintf("unpinned a page which does not exist: %v", pageId))
	}

	frame := b.frames[frameIdx]
	if isDirty {
		frame.page.SetDirty()
	}

	if frame.page.GetPinCount() <= 0 {
		panic(fmt.Sprintf("buffer.Unpin is called while pin count is lte zero. PageId: %v, pin count: %v", frame.page.GetPageId(), frame.page.GetPinCount()))
	}

	// decrease pin count and if it is 0 unpin frame in the replacer so that new pages can be read
	frame.page.DecrPinCount()
	if frame.page.GetPinCount() == 0 {
		b.Replacer.Unpin(frameIdx)
		return true
	}

	return false
}

func (b *BufferPool) FreePage(pageId uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		frame := b.frames[frameIdx]
		if frame.page.GetPinCount() > 0 {
			panic(fmt.Sprintf("freeing a pinned page, pin count: %v", frame.page.GetPinCount()))
		}

		delete(b.pageMap, pageId)
		b.Replacer.Pin(frameIdx)
		frame.page.SetClean()
		frame.page.PageId = disk.InvalidPageID
		b.emptyFrames = append(b.emptyFrames, frameIdx)
	}

	b.DiskManager.FreePage(pageId)
}

func (b *BufferPool) FlushAll() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for pageId, frameIdx := range b.pageMap {
		p := b.frames[frameIdx].page
		if !p.IsDirty() {
			continue
		}
		if err := b.DiskManager.WritePage(p.GetData(), pageId); err != nil {
			return err
		}
		p.SetClean()
	}

	return nil
}

func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.emptyFrames)
}
