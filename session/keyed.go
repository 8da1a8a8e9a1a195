package session

import (
	"context"
	"sync"

	"invasion-viewer/metrics"

	"github.com/apex/log"
)

// View is a read-only snapshot of a keyed cache.
type View[T any] struct {
	Key     string `json:"key"`
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// Keyed caches the result of fetch for one key at a time. Changing the key
// drops the data and refetches; every fetch carries the generation it was
// issued for and its result is discarded when a newer generation exists.
// An empty key means "nothing selected" and never reaches fetch.
type Keyed[T any] struct {
	resource string
	fetch    FetchFunc[T]
	base     context.Context
	onChange func(View[T])

	mu      sync.Mutex
	key     string
	gen     uint64
	data    T
	loading bool
	err     error
	cancel  context.CancelFunc
	// merges applied while a fetch was in flight, replayed on its result
	pending []func(T) T

	wg sync.WaitGroup
}

// NewKeyed creates a cache whose fetches are bound to ctx. onChange is called
// outside the lock after every visible change and may be nil.
func NewKeyed[T any](ctx context.Context, resource string, fetch FetchFunc[T], onChange func(View[T])) *Keyed[T] {
	return &Keyed[T]{
		resource: resource,
		fetch:    fetch,
		base:     ctx,
		onChange: onChange,
	}
}

func (k *Keyed[T]) Key() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key
}

func (k *Keyed[T]) View() View[T] {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.viewLocked()
}

// SetKey switches the cache to key. Same key is a no-op.
func (k *Keyed[T]) SetKey(key string) {
	k.mu.Lock()
	if key == k.key {
		k.mu.Unlock()
		return
	}
	var zero T
	k.key = key
	k.data = zero
	k.err = nil
	k.pending = nil
	view := k.beginLocked()
	k.mu.Unlock()
	k.emit(view)
}

// Refresh refetches the current key, keeping the data until the answer lands.
func (k *Keyed[T]) Refresh() {
	k.mu.Lock()
	if k.key == "" {
		k.mu.Unlock()
		return
	}
	view := k.beginLocked()
	k.mu.Unlock()
	k.emit(view)
}

// Replace stores server-acknowledged data for key. It is ignored, and false
// returned, when key is no longer the active key. Any fetch in flight is
// superseded.
func (k *Keyed[T]) Replace(key string, data T) bool {
	return k.Update(key, func(T) T { return data })
}

// Update is Replace with a function of the current data.
func (k *Keyed[T]) Update(key string, fn func(current T) T) bool {
	k.mu.Lock()
	if key == "" || key != k.key {
		k.mu.Unlock()
		k.dropped(key)
		return false
	}
	k.gen++
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	k.data = fn(k.data)
	k.loading = false
	k.err = nil
	k.pending = nil
	view := k.viewLocked()
	k.mu.Unlock()
	k.emit(view)
	return true
}

// Merge applies fn to the data of key without superseding a fetch in flight.
// fn is applied now and again to the fetch result when it lands, so it must
// be idempotent.
func (k *Keyed[T]) Merge(key string, fn func(current T) T) bool {
	k.mu.Lock()
	if key == "" || key != k.key {
		k.mu.Unlock()
		k.dropped(key)
		return false
	}
	k.data = fn(k.data)
	if k.loading {
		k.pending = append(k.pending, fn)
	}
	view := k.viewLocked()
	k.mu.Unlock()
	k.emit(view)
	return true
}

// Fail records err for key, keeping the data already loaded.
func (k *Keyed[T]) Fail(key string, err error) bool {
	k.mu.Lock()
	if key == "" || key != k.key {
		k.mu.Unlock()
		return false
	}
	k.err = err
	view := k.viewLocked()
	k.mu.Unlock()
	k.emit(view)
	return true
}

// Wait blocks until every fetch started so far has finished.
func (k *Keyed[T]) Wait() {
	k.wg.Wait()
}

// beginLocked starts a new generation and, for a non-empty key, a fetch.
// Nothing is fetched once the base context is done.
func (k *Keyed[T]) beginLocked() View[T] {
	k.gen++
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	if k.key == "" || k.base.Err() != nil {
		k.loading = false
		return k.viewLocked()
	}

	ctx, cancel := context.WithCancel(k.base)
	k.cancel = cancel
	k.loading = true
	k.wg.Add(1)
	go k.run(ctx, cancel, k.gen, k.key)
	return k.viewLocked()
}

func (k *Keyed[T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, key string) {
	defer k.wg.Done()
	defer cancel()

	data, err := k.fetch(ctx, key)

	k.mu.Lock()
	if gen != k.gen || key != k.key {
		k.mu.Unlock()
		k.dropped(key)
		return
	}
	k.cancel = nil
	k.loading = false
	if err != nil {
		log.Warnf("Failed to fetch %s for region %s: %v", k.resource, key, err)
		k.err = err
	} else {
		for _, fn := range k.pending {
			data = fn(data)
		}
		k.data = data
		k.err = nil
	}
	k.pending = nil
	view := k.viewLocked()
	k.mu.Unlock()
	k.emit(view)
}

func (k *Keyed[T]) dropped(key string) {
	metrics.StaleResponsesDropped.WithLabelValues(k.resource).Inc()
	log.Debugf("Dropped stale %s response for region %q", k.resource, key)
}

func (k *Keyed[T]) viewLocked() View[T] {
	v := View[T]{
		Key:     k.key,
		Data:    k.data,
		Loading: k.loading,
		Err:     k.err,
	}
	if k.err != nil {
		v.Error = k.err.Error()
	}
	return v
}

func (k *Keyed[T]) emit(view View[T]) {
	if k.onChange != nil {
		k.onChange(view)
	}
}
