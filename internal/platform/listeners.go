package platform

import "sync"

// listeners is an ordered set of URL callbacks.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(string)
	keys []int
}

func (l *listeners) add(fn func(string)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func(string))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.keys = append(l.keys, id)

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.fns, id)
	for i, k := range l.keys {
		if k == id {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

// emit calls every listener in registration order, outside the lock so a
// listener may unsubscribe itself.
func (l *listeners) emit(raw string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.keys))
	for _, k := range l.keys {
		fns = append(fns, l.fns[k])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

func (l *listeners) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
