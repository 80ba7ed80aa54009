package dslink

import (
	"slices"
)

// orderedMap preserves insertion order, which the structural update batch
// and the persisted node form depend on.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func newOrderedMap() *orderedMap {
	return &orderedMap{
		values: map[string]any{},
	}
}

func (self *orderedMap) get(key string) (any, bool) {
	value, ok := self.values[key]
	return value, ok
}

func (self *orderedMap) set(key string, value any) {
	if _, ok := self.values[key]; !ok {
		self.keys = append(self.keys, key)
	}
	self.values[key] = value
}

func (self *orderedMap) delete(key string) bool {
	if _, ok := self.values[key]; !ok {
		return false
	}
	delete(self.values, key)
	i := slices.Index(self.keys, key)
	self.keys = slices.Delete(self.keys, i, i+1)
	return true
}

func (self *orderedMap) orderedKeys() []string {
	return slices.Clone(self.keys)
}

func (self *orderedMap) copyInto(out map[string]any) {
	for _, key := range self.keys {
		out[key] = self.values[key]
	}
}

func (self *orderedMap) len() int {
	return len(self.keys)
}
