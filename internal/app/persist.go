package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pavelanni/penmark/internal/model"
)

// persister writes document snapshots from a single goroutine. It holds at
// most one pending snapshot: a request made while a save is in flight
// replaces the pending one, and the latest snapshot is written once the
// in-flight save returns.
type persister struct {
	store  Store
	key    string
	logger *slog.Logger

	mu        sync.Mutex
	idle      *sync.Cond
	pending   *model.Document
	requested uint64
	written   uint64
	lastErr   error
	closed    bool
	wake      chan struct{}
	done      chan struct{}
}

func newPersister(store Store, key string, logger *slog.Logger) *persister {
	p := &persister{
		store:  store,
		key:    key,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// request schedules doc to be written. doc must not be shared with the caller.
func (p *persister) request(doc model.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("save requested after close, dropping", "key", p.key)
		return
	}
	p.pending = &doc
	p.requested++
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for range p.wake {
		for {
			p.mu.Lock()
			doc, gen := p.pending, p.requested
			p.pending = nil
			p.mu.Unlock()
			if doc == nil {
				break
			}

			err := p.store.Save(context.Background(), p.key, doc)
			if err != nil {
				p.logger.Error("failed to save document", "key", p.key, "error", err)
			} else {
				p.logger.Debug("saved document", "key", p.key, "generation", gen)
			}

			p.mu.Lock()
			p.written = gen
			p.lastErr = err
			p.idle.Broadcast()
			p.mu.Unlock()
		}
	}
}

// flush blocks until every requested snapshot has been written and returns
// the result of the last save.
func (p *persister) flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.written < p.requested {
		p.idle.Wait()
	}
	return p.lastErr
}

func (p *persister) lastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// close writes any pending snapshot and stops the goroutine.
func (p *persister) close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.wake)
	}
	p.mu.Unlock()
	<-p.done
	return p.lastError()
}
