package dslink

import (
	"slices"
	"sync"
)

// callbackList keeps an ordered set of observers. Observers are invoked in
// registration order. Entries are tracked by handle because func values do
// not compare.
//
// makes a copy of the list on read so invocation never holds the lock
type callbackList[T any] struct {
	mutex      sync.Mutex
	nextHandle int
	handles    []int
	callbacks  map[int]T
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	out := make([]T, 0, len(self.handles))
	for _, handle := range self.handles {
		out = append(out, self.callbacks[handle])
	}
	return out
}

func (self *callbackList[T]) add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextHandle += 1
	handle := self.nextHandle
	self.handles = append(self.handles, handle)
	self.callbacks[handle] = callback
	return handle
}

func (self *callbackList[T]) remove(handle int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.handles, handle)
	if i < 0 {
		// not present
		return
	}
	self.handles = slices.Delete(self.handles, i, i+1)
	delete(self.callbacks, handle)
}
