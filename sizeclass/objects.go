package sizeclass

// ObjectPool recycles *T values LIFO.  New values come from the newFn closure
// given to NewObjectPool; reset, if non-nil, is applied to every value passed
// to Put.  It is not safe for concurrent use.
type ObjectPool[T any] struct {
	newFn func() *T
	reset func(*T)
	free  []*T
	stats Stats
}

// NewObjectPool creates an ObjectPool.  newFn must not be nil.
func NewObjectPool[T any](newFn func() *T, reset func(*T)) *ObjectPool[T] {
	return &ObjectPool[T]{newFn: newFn, reset: reset}
}

// Get returns the most recently released value, or a new one.
func (p *ObjectPool[T]) Get() *T {
	if last := len(p.free) - 1; last >= 0 {
		v := p.free[last]
		p.free[last] = nil
		p.free = p.free[:last]
		p.stats.Reuses++
		return v
	}
	p.stats.Allocs++
	return p.newFn()
}

// Put returns v to the pool.  Putting nil is an anomaly.
func (p *ObjectPool[T]) Put(v *T) {
	if v == nil {
		p.stats.Anomalies++
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.free = append(p.free, v)
	p.stats.Releases++
}

// FreeLen returns the number of values available for reuse.
func (p *ObjectPool[T]) FreeLen() int {
	return len(p.free)
}

// Stats returns a snapshot of the pool's counters.
func (p *ObjectPool[T]) Stats() Stats {
	return p.stats
}
