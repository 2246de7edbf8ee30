// Package dispatch fans outbound broadcasts out to peers with bounded
// concurrency and no retry (spec §4.7): each job is a single-attempt
// PeerClient.Broadcast call, and a failed job is simply logged — the
// flood protocol relies on other peers re-fanning-out, not on this node
// retrying. Grounded on github.com/JekaMas/workerpool, the Go-idiomatic
// stand-in for the original's RQ-backed "mempool" job queue (spec §1's
// explicitly out-of-scope "job-queue library").
package dispatch

import (
	"context"
	"log"

	"github.com/JekaMas/workerpool"

	"guidnet/internal/guid"
	"guidnet/internal/message"
	"guidnet/internal/peerclient"
)

// Dispatcher wraps a bounded worker pool.
type Dispatcher struct {
	pool *workerpool.WorkerPool
	dial peerclient.Dialer
}

// New builds a Dispatcher with the given worker concurrency.
func New(workers int, dial peerclient.Dialer) *Dispatcher {
	return &Dispatcher{
		pool: workerpool.New(workers),
		dial: dial,
	}
}

// Enqueue submits one outbound broadcast job for (address, m). It never
// blocks the caller beyond handing the closure to the pool.
func (d *Dispatcher) Enqueue(address string, m *message.Message) {
	// Copy the message so later mutation by the caller (e.g. further
	// MarkSeen calls) can't race with this job reading it.
	copied := *m
	copied.SeenBy = append([]guid.GUID(nil), m.SeenBy...)

	d.pool.Submit(func() {
		client := d.dial(address)
		ctx, cancel := context.WithTimeout(context.Background(), peerclient.DefaultRPCTimeout)
		defer cancel()
		if _, err := client.Broadcast(ctx, &copied); err != nil {
			log.Printf("dispatch: broadcast to %s failed: %v", address, err)
		}
	})
}

// StopWait waits for queued jobs to finish and stops the pool. Call during
// graceful shutdown.
func (d *Dispatcher) StopWait() {
	d.pool.StopWait()
}
