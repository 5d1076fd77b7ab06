package reconciler

import (
	"context"
	"sync"
	"time"

	"pdsnotes/models"
)

// Debouncer batches rapid edits of the same entity into one UpdateEntity
// call issued after the entity has been idle for the configured delay.
// The latest submitted copy wins.
type Debouncer struct {
	r     *Reconciler
	delay time.Duration

	mu      sync.Mutex
	pending map[viewKey]*debounced
	closed  bool
}

type debounced struct {
	e     models.Entity
	ctx   context.Context
	timer *time.Timer
}

// Debouncer returns a Debouncer over r. A zero delay updates immediately.
func (r *Reconciler) Debouncer(delay time.Duration) *Debouncer {
	return &Debouncer{r: r, delay: delay, pending: make(map[viewKey]*debounced)}
}

// Submit schedules e to be applied once edits to it pause. Errors from the
// eventual update are reported through the reconciler's reporter.
func (d *Debouncer) Submit(ctx context.Context, e models.Entity) {
	if d.delay <= 0 {
		d.apply(ctx, e)
		return
	}

	k := viewKey{e.Kind(), e.Meta().RKey}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if p, ok := d.pending[k]; ok {
		p.e = e.Clone()
		p.ctx = ctx
		p.timer.Reset(d.delay)
		return
	}

	p := &debounced{e: e.Clone(), ctx: ctx}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(k, p) })
	d.pending[k] = p
}

func (d *Debouncer) fire(k viewKey, p *debounced) {
	d.mu.Lock()
	if d.pending[k] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	e, ctx := p.e, p.ctx
	d.mu.Unlock()

	d.apply(context.WithoutCancel(ctx), e)
}

// Flush applies every scheduled edit now.
func (d *Debouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	batch := make([]models.Entity, 0, len(d.pending))
	for k, p := range d.pending {
		p.timer.Stop()
		batch = append(batch, p.e)
		delete(d.pending, k)
	}
	d.mu.Unlock()

	for _, e := range batch {
		d.apply(ctx, e)
	}
}

// Stop flushes scheduled edits and rejects further submissions.
func (d *Debouncer) Stop(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Flush(ctx)
}

func (d *Debouncer) apply(ctx context.Context, e models.Entity) {
	if _, err := d.r.UpdateEntity(ctx, e); err != nil {
		d.r.reportFailure(e.Kind(), e.Meta().RKey, models.OpUpdate, err)
	}
}
