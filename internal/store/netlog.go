package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

const (
	netlogQueue    = 1024
	netlogBatch    = 50
	netlogInterval = 2 * time.Second
)

type sessionEvent struct {
	row  SessionRow
	done bool
}

// NetLog records session lifecycles through a background writer so the
// tick goroutine never waits on the database. It implements sv.Observer.
type NetLog struct {
	db     *DB
	log    *slog.Logger
	events chan sessionEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	dropped atomic.Uint64
	written atomic.Uint64
}

var _ sv.Observer = (*NetLog)(nil)

// NewNetLog starts the background writer. A nil logger means slog.Default().
func NewNetLog(db *DB, log *slog.Logger) *NetLog {
	if log == nil {
		log = slog.Default()
	}
	n := &NetLog{
		db:     db,
		log:    log.With("component", "netlog"),
		events: make(chan sessionEvent, netlogQueue),
		stop:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.writer()
	return n
}

// ClientConnected enqueues a new session row.
func (n *NetLog) ClientConnected(info sv.SessionInfo) {
	n.enqueue(sessionEvent{row: SessionRow{
		ID:      info.ID,
		Name:    info.Name,
		Addr:    info.Addr,
		Profile: info.Profile.String(),
		Slot:    info.Slot,
		Started: time.Now().UTC(),
	}})
}

// ClientDropped enqueues the completion of a session.
func (n *NetLog) ClientDropped(info sv.SessionInfo, reason string, stats sv.ConnStats) {
	n.enqueue(sessionEvent{done: true, row: SessionRow{
		ID:               info.ID,
		Ended:            time.Now().UTC(),
		Reason:           reason,
		FramesSent:       stats.FramesSent,
		FramesSuppressed: stats.FramesSuppressed,
		FullFrames:       stats.FullFrames,
		BytesSent:        stats.BytesSent,
	}})
}

func (n *NetLog) enqueue(ev sessionEvent) {
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *NetLog) Dropped() uint64 { return n.dropped.Load() }

// Written returns how many events reached the database.
func (n *NetLog) Written() uint64 { return n.written.Load() }

// Stop flushes pending events and ends the writer. It is safe to call more
// than once; events enqueued afterwards are dropped.
func (n *NetLog) Stop() {
	n.once.Do(func() {
		close(n.stop)
		n.wg.Wait()
	})
}

func (n *NetLog) writer() {
	defer n.wg.Done()

	batch := make([]sessionEvent, 0, netlogBatch)
	ticker := time.NewTicker(netlogInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-n.events:
			batch = append(batch, ev)
			if len(batch) >= netlogBatch {
				n.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				n.flush(batch)
				batch = batch[:0]
			}
		case <-n.stop:
			for {
				select {
				case ev := <-n.events:
					batch = append(batch, ev)
				default:
					n.flush(batch)
					return
				}
			}
		}
	}
}

func (n *NetLog) flush(batch []sessionEvent) {
	if n.db == nil || len(batch) == 0 {
		return
	}
	tx, err := n.db.conn.Begin()
	if err != nil {
		n.log.Error("begin tx", "err", err)
		return
	}
	defer tx.Rollback()

	for i := range batch {
		ev := &batch[i]
		if ev.done {
			err = completeSession(tx, &ev.row)
		} else {
			err = insertSession(tx, &ev.row)
		}
		if err != nil {
			n.log.Error("write session", "session", ev.row.ID.String(), "err", err)
		}
	}
	if err := tx.Commit(); err != nil {
		n.log.Error("commit", "err", err)
		return
	}
	n.written.Add(uint64(len(batch)))
}
