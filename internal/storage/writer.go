package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const auditRetries = 3

// AuditWriter persists execution records off the request path. Entries
// are dropped rather than blocking when the buffer is full.
type AuditWriter struct {
	store     Store
	ch        chan *Execution
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	backoff   time.Duration
	dropped   atomic.Int64
}

func NewAuditWriter(store Store, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		store:   store,
		backoff: 100 * time.Millisecond,
		ch:      make(chan *Execution, bufferSize),
		done:    make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues exec for writing. It never blocks and reports whether the
// entry was accepted.
func (w *AuditWriter) Log(exec *Execution) bool {
	select {
	case <-w.done:
		w.drop(exec, "audit writer closed, dropping log entry")
		return false
	default:
	}
	select {
	case w.ch <- exec:
		return true
	default:
		w.drop(exec, "audit buffer full, dropping log entry")
		return false
	}
}

// Dropped returns the number of entries discarded so far.
func (w *AuditWriter) Dropped() int64 {
	return w.dropped.Load()
}

func (w *AuditWriter) drop(exec *Execution, msg string) {
	w.dropped.Add(1)
	log.Warn().Str("exec_id", exec.ID).Int64("dropped_total", w.dropped.Load()).Msg(msg)
}

// Flush stops accepting entries and waits up to timeout for queued ones
// to be written. Safe to call more than once.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.closeOnce.Do(func() { close(w.done) })

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Int64("dropped", w.dropped.Load()).Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Int("pending", len(w.ch)).Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case exec := <-w.ch:
			w.write(exec)
		case <-w.done:
			for {
				select {
				case exec := <-w.ch:
					w.write(exec)
				default:
					return
				}
			}
		}
	}
}

// write tries the store with exponential backoff between attempts.
func (w *AuditWriter) write(exec *Execution) {
	var err error
	for attempt := 0; attempt <= auditRetries; attempt++ {
		if attempt > 0 {
			delay := w.backoff << (attempt - 1)
			log.Warn().
				Err(err).
				Str("exec_id", exec.ID).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("audit write failed, retrying")
			time.Sleep(delay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = w.store.LogExecution(ctx, exec)
		cancel()
		if err == nil {
			return
		}
	}

	w.dropped.Add(1)
	log.Error().
		Err(err).
		Str("exec_id", exec.ID).
		Msg("audit write failed permanently after retries")
}
