package megatexture

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Transfer copies one tile from the source into a cache slot.
type Transfer struct {
	Slot int
	Addr TileAddr
	Dst  []byte
}

// Completion reports that a Transfer finished.
type Completion struct {
	Slot int
	Err  error
}

// Bus moves tile data in the background. Submit must not block while fewer
// transfers than the completion channel's capacity are outstanding. Every
// submitted transfer produces exactly one Completion on done.
type Bus interface {
	Submit(t Transfer, done chan<- Completion)
}

type busRequest struct {
	transfer Transfer
	done     chan<- Completion
}

// ReaderAtBus serves transfers from an io.ReaderAt on one worker goroutine,
// in submission order.
type ReaderAtBus struct {
	src      io.ReaderAt
	requests chan busRequest
	log      *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewReaderAtBus starts a bus reading from src. depth is the number of
// transfers that can be queued without blocking.
func NewReaderAtBus(src io.ReaderAt, depth int, log *zap.Logger) *ReaderAtBus {
	if log == nil {
		log = zap.NewNop()
	}

	b := &ReaderAtBus{
		src:      src,
		requests: make(chan busRequest, depth),
		log:      log,
	}

	b.wg.Add(1)
	go b.run()

	return b
}

func (b *ReaderAtBus) Submit(t Transfer, done chan<- Completion) {
	b.requests <- busRequest{transfer: t, done: done}
}

func (b *ReaderAtBus) run() {
	defer b.wg.Done()

	for req := range b.requests {
		t := req.transfer

		n, err := b.src.ReadAt(t.Dst, int64(t.Addr))
		if errors.Is(err, io.EOF) && n == len(t.Dst) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("reading tile at %d: %w", t.Addr, err)
			b.log.Error("tile transfer failed", zap.Int("slot", t.Slot), zap.Error(err))
		}

		req.done <- Completion{Slot: t.Slot, Err: err}
	}
}

// Close stops the worker after the queued transfers finish.
func (b *ReaderAtBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.requests)
	})
	b.wg.Wait()
	return nil
}
