package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yireyun/go-queue"
)

// Poller drives a StreamingReader from its own goroutine and hands the
// batches to consumers over a bounded lock free queue.
//
//	go p.Run(ctx)
//	for {
//		batch, ok := p.Poll()
//		...
//		batch.Records.Recycle()
//		p.Commit(batch)
//	}
type Poller struct {
	reader   *StreamingReader
	queue    *queue.EsQueue
	interval time.Duration

	checkpoint atomic.Int64
	started    atomic.Bool
}

func NewPoller(reader *StreamingReader, capacity uint32, interval time.Duration) *Poller {
	return &Poller{
		reader:   reader,
		queue:    queue.NewQueue(capacity),
		interval: interval,
	}
}

// Run plans until ctx is done or planning fails. It waits interval between
// polls that found nothing and while the queue is full.
func (p *Poller) Run(ctx context.Context) error {
	for {
		batch, ok, err := p.reader.NextSplits(ctx)
		if err != nil {
			logrus.Errorf("Streaming read failed: %v", err)
			return err
		}
		if !ok {
			if err = p.wait(ctx); err != nil {
				return err
			}
			continue
		}
		for {
			if put, _ := p.queue.Put(batch); put {
				break
			}
			if err = p.wait(ctx); err != nil {
				batch.Records.Recycle()
				return err
			}
		}
		logrus.Debugf("Queued plan of snapshot %d", batch.SnapshotID)
	}
}

func (p *Poller) wait(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll takes the next batch, false if none is queued.
func (p *Poller) Poll() (*Batch, bool) {
	v, ok, _ := p.queue.Get()
	if !ok {
		return nil, false
	}
	return v.(*Batch), true
}

// Commit acknowledges a fully processed batch. Batches are committed in the
// order they were polled.
func (p *Poller) Commit(batch *Batch) {
	p.checkpoint.Store(batch.SnapshotID)
	p.started.Store(true)
}

// Checkpoint is the snapshot id of the last committed batch, false before
// the first commit. Queued batches never move it.
func (p *Poller) Checkpoint() (int64, bool) {
	return p.checkpoint.Load(), p.started.Load()
}

func (p *Poller) Pending() uint32 {
	return p.queue.Quantity()
}
