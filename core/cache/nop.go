package cache

// Nop never stores anything.
type Nop[K comparable, V any] struct{}

func (Nop[K, V]) Get(K) (val V, ok bool) { return val, false }
func (Nop[K, V]) Put(K, V)               {}
func (Nop[K, V]) Delete(K)               {}
func (Nop[K, V]) Len() int               { return 0 }

var _ Cache[string, int] = Nop[string, int]{}
