package cache

import (
	"container/list"
	"sync"
)

type LRUOpts struct {
	// Size is the maximum number of entries (default: 128).
	Size int
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// LRU evicts the least recently used entry once Size is exceeded.
type LRU[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[K]*list.Element
}

func NewLRU[K comparable, V any](opts LRUOpts) *LRU[K, V] {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU[K, V]{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[K]*list.Element),
	}
}

func (l *LRU[K, V]) Get(key K) (val V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ele, ok := l.items[key]
	if !ok {
		return val, false
	}
	l.ll.MoveToFront(ele)
	return ele.Value.(*entry[K, V]).val, true
}

func (l *LRU[K, V]) Put(key K, val V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		ele.Value.(*entry[K, V]).val = val
		return
	}
	l.items[key] = l.ll.PushFront(&entry[K, V]{key: key, val: val})
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.ll.Remove(last)
			delete(l.items, last.Value.(*entry[K, V]).key)
		}
	}
}

func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.Remove(ele)
		delete(l.items, key)
	}
}

func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

var _ Cache[string, int] = (*LRU[string, int])(nil)
