package update

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/minio/highwayhash"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// job is one fetched message with its decoded event. raw is nil for
// messages carrying no event object; an undecodable value carries its
// decode error instead.
type job struct {
	msg       kafka.Message
	raw       map[string]interface{}
	decodeErr error
}

// handleFunc processes one message and reports whether its offset may
// be committed.
type handleFunc func(ctx context.Context, j job) bool

type commitFunc func(msg kafka.Message) error

// The routing key is arbitrary; highwayhash requires exactly 32 bytes.
var routingHashKey, _ = hex.DecodeString("9d2f8a41c3b6704e5d1ea8c2f0b97356dd24e18a0c4b76f39215c8ed63a0f47b")

// Pool fans events out to workers while keeping each document's events
// in order: a message routes to the worker selected by hashing its
// document identity, and workers drain their queues FIFO. Offsets
// commit strictly in partition order, up to the newest message whose
// predecessors have all completed. One worker reproduces a fully serial
// pipeline.
type Pool struct {
	handle handleFunc
	commit commitFunc

	queues   []chan job
	releases chan kafka.Message
	workerWG sync.WaitGroup
	commitWG sync.WaitGroup

	// mu orders tracker updates and release submissions, so commits
	// reach the committer in release order.
	mu      sync.Mutex
	tracker offsetTracker
}

func newPool(workers int, handle handleFunc, commit commitFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	var p = &Pool{
		handle:   handle,
		commit:   commit,
		queues:   make([]chan job, workers),
		releases: make(chan kafka.Message, 256),
		tracker:  offsetTracker{partitions: make(map[int]*partitionQueue)},
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, 64)
	}
	return p
}

func (p *Pool) start(ctx context.Context) {
	for _, queue := range p.queues {
		p.workerWG.Add(1)
		go p.worker(ctx, queue)
	}
	p.commitWG.Add(1)
	go p.committer()
}

// dispatch routes one decoded message to its worker. Callers must
// dispatch from a single goroutine, in fetch order.
func (p *Pool) dispatch(j job) {
	p.mu.Lock()
	p.tracker.admit(j.msg)
	p.mu.Unlock()

	p.queues[p.route(j)] <- j
}

// route picks the worker for a message: by document ID when the event
// carries one, else by the message key the connector derives from the
// row's primary key. Either way one document's events share a worker.
func (p *Pool) route(j job) int {
	var key = j.msg.Key
	if id, ok := j.raw["id"].(string); ok && id != "" {
		key = []byte(id)
	}
	return int(highwayhash.Sum64(key, routingHashKey) % uint64(len(p.queues)))
}

func (p *Pool) worker(ctx context.Context, queue <-chan job) {
	defer p.workerWG.Done()
	for j := range queue {
		if ctx.Err() != nil {
			// Drain without processing; uncommitted offsets redeliver.
			continue
		}
		p.finish(j.msg, p.handle(ctx, j))
	}
}

// finish records one completion and forwards any newly committable
// offset to the committer.
func (p *Pool) finish(msg kafka.Message, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if released, any := p.tracker.complete(msg, ok); any {
		p.releases <- released
	}
}

func (p *Pool) committer() {
	defer p.commitWG.Done()
	for msg := range p.releases {
		if err := p.commit(msg); err != nil {
			log.WithFields(log.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"err":       err,
			}).Warn("offset commit failed")
		}
	}
}

// stop drains the workers and flushes pending commits. dispatch must
// not be called after stop.
func (p *Pool) stop() {
	for _, queue := range p.queues {
		close(queue)
	}
	p.workerWG.Wait()
	close(p.releases)
	p.commitWG.Wait()
}

// offsetTracker releases offsets for commit in fetch order. A completed
// message becomes committable only when every earlier message of its
// partition completed successfully. A message that failed even
// dead-lettering holds its partition's commits, so it redelivers once
// the group rebalances or restarts. Not safe for concurrent use; the
// Pool serializes access.
type offsetTracker struct {
	partitions map[int]*partitionQueue
}

type partitionQueue struct {
	pending []pendingOffset
	stalled bool
}

type pendingOffset struct {
	offset int64
	done   bool
	ok     bool
}

// admit records one fetched message, in fetch order.
func (t *offsetTracker) admit(msg kafka.Message) {
	var q = t.partitions[msg.Partition]
	if q == nil {
		q = &partitionQueue{}
		t.partitions[msg.Partition] = q
	}
	q.pending = append(q.pending, pendingOffset{offset: msg.Offset})
}

// complete marks msg done and returns the newest message of its
// partition whose predecessors have all completed successfully, if this
// completion produced one. Commits are cumulative, so committing that
// message commits the whole released prefix.
func (t *offsetTracker) complete(msg kafka.Message, ok bool) (kafka.Message, bool) {
	var q = t.partitions[msg.Partition]
	if q == nil {
		return kafka.Message{}, false
	}
	for i := range q.pending {
		if q.pending[i].offset == msg.Offset {
			q.pending[i].done, q.pending[i].ok = true, ok
			break
		}
	}

	var released = int64(-1)
	for len(q.pending) > 0 && q.pending[0].done && q.pending[0].ok {
		released = q.pending[0].offset
		q.pending = q.pending[1:]
	}
	if len(q.pending) > 0 && q.pending[0].done && !q.pending[0].ok && !q.stalled {
		q.stalled = true
		log.WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    q.pending[0].offset,
		}).Warn("holding commits behind failed event")
	}

	if released < 0 {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: released}, true
}
