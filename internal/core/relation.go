package core

import "sync"

// relation memoizes the first resolution of a cross-entity lookup on a record
// instance. resolve is idempotent: concurrent first accesses share one
// underlying lookup and observe the same eventual value. The zero value is
// ready to use.
type relation[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (r *relation[T]) resolve(fn func() (T, error)) (T, error) {
	r.once.Do(func() {
		r.val, r.err = fn()
	})
	return r.val, r.err
}
