package dslink

import (
	"slices"
	"strings"
)

// ToJSON renders the node's persisted form: every config entry, every
// attribute entry, and one nested object per non-transient child. A
// transient subtree is fully excluded, including from its parent's entry.
func (self *Node) ToJSON() map[string]any {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.toJSON()
}

func (self *Node) toJSON() map[string]any {
	out := map[string]any{}
	self.config.copyInto(out)
	self.attributes.copyInto(out)
	for _, name := range self.childNames {
		child := self.children[name]
		if child.transient {
			continue
		}
		out[name] = child.toJSON()
	}
	return out
}

// NodeFromJSON constructs a node named name under parent from the
// serializer's output form. A $type key routes through SetType to keep
// value, type, and config in sync; other $-keys become config, @-keys
// become attributes, and everything else becomes a child node.
func NodeFromJSON(obj map[string]any, parent *Node, name string) *Node {
	node := NewNode(name, parent)
	populateFromJSON(obj, node)
	return node
}

func populateFromJSON(obj map[string]any, node *Node) {
	// stable key order so reloaded structures serialize deterministically
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := obj[key]
		switch {
		case key == "$type":
			if valueType, ok := value.(string); ok {
				node.SetType(valueType)
			}
		case strings.HasPrefix(key, "$"):
			node.SetConfig(key, value)
		case strings.HasPrefix(key, "@"):
			node.SetAttribute(key, value)
		default:
			if childObj, ok := value.(map[string]any); ok {
				node.AddChild(NodeFromJSON(childObj, node, key))
			}
		}
	}
}
