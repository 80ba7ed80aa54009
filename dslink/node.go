package dslink

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Node is one addressable vertex in a link's exposed structure. It owns a
// typed value, ordered config ($-prefixed) and attribute (@-prefixed)
// entries, named children, and the subscriber/stream sets that drive
// outbound updates.
//
// The whole tree shares one mutex, owned by the root. Tree mutation and
// notification are serialized behind it; the link back-reference is a
// non-owning handle used for upward routing only.
type Node struct {
	mu *sync.Mutex

	name       string
	path       string
	parent     *Node
	link       *Link
	standalone bool
	transient  bool

	value      *Value
	config     *orderedMap
	attributes *orderedMap

	children   map[string]*Node
	childNames []string

	subscribers []int
	streams     []int

	// tombstones for detached children, drained by the next structural read
	removedChildren []*Node

	valueObservers *callbackList[SetCallback]
}

// NewNode creates a node under parent. The path is derived once here and
// never recomputed. A nil parent creates a detached root.
func NewNode(name string, parent *Node) *Node {
	node := &Node{
		config:         newOrderedMap(),
		attributes:     newOrderedMap(),
		children:       map[string]*Node{},
		valueObservers: newCallbackList[SetCallback](),
	}
	node.config.set("$is", "node")

	if parent != nil {
		node.mu = parent.mu
		node.parent = parent
		node.link = parent.link
		node.standalone = parent.standalone
		node.name = name
		if strings.HasSuffix(parent.path, "/") {
			node.path = parent.path + name
		} else {
			node.path = parent.path + "/" + name
		}
		node.value = NewValue(parent.value.clock)
	} else {
		node.mu = &sync.Mutex{}
		if name != "" {
			node.name = name
			node.path = "/" + name
		}
		node.value = NewValue(nil)
	}
	return node
}

// NewRootNode creates the unnamed super root of a link's node structure.
func NewRootNode(link *Link) *Node {
	return newRootNode(link, false)
}

// NewStandaloneRootNode creates a root whose subtree emits updates even
// while the link is not yet active.
func NewStandaloneRootNode(link *Link) *Node {
	return newRootNode(link, true)
}

func newRootNode(link *Link, standalone bool) *Node {
	node := NewNode("", nil)
	node.link = link
	node.standalone = standalone
	if link != nil {
		node.value = NewValue(link.clock)
	}
	return node
}

func (self *Node) Name() string {
	return self.name
}

// Path is the absolute slash-delimited address, always
// parent path + "/" + name. The root path is empty.
func (self *Node) Path() string {
	return self.path
}

func (self *Node) Parent() *Node {
	return self.parent
}

func (self *Node) Transient() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.transient
}

// SetTransient excludes the node and its subtree from persisted
// serialization. Live protocol traffic is unaffected.
func (self *Node) SetTransient(transient bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.transient = transient
}

// Type returns the declared value type tag, or "" when untyped.
func (self *Node) Type() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if t, ok := self.config.get("$type"); ok {
		if s, ok := t.(string); ok {
			return s
		}
	}
	return ""
}

// SetType sets the value's declared type and mirrors it into $type.
// The two must never drift.
func (self *Node) SetType(valueType string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.value.SetType(valueType)
	self.setConfig("$type", valueType)
}

// Value returns the readable form of the node's value, with enum types
// expanded to their descriptor.
func (self *Node) Value() any {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.value.Get()
}

func (self *Node) HasValue() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.value.HasValue()
}

// SetValue replaces the node's value. Returns whether the value actually
// changed. On change, subscribers are notified if the subtree may emit
// traffic; with triggerCallback, registered value observers run first and
// the profile set callback after, both synchronously and outside the tree
// lock. An unknown profile is a no-op, not an error.
func (self *Node) SetValue(value any, triggerCallback bool) bool {
	self.mu.Lock()
	changed := self.value.Set(value)
	var callbacks []func()
	if changed {
		self.updateSubscriberValues()
		if triggerCallback {
			callbacks = self.valueCallbacks(value)
		}
	}
	self.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
	return changed
}

// valueCallbacks snapshots the observer list plus the profile set callback
// as closures to run after the lock is released.
func (self *Node) valueCallbacks(value any) []func() {
	callbacks := []func(){}
	params := &SetCallbackParameters{
		Node:  self,
		Value: value,
	}
	for _, observer := range self.valueObservers.get() {
		observer := observer
		callbacks = append(callbacks, func() {
			observer(params)
		})
	}
	if self.link != nil {
		if profileName, ok := self.config.get("$is"); ok {
			if name, ok := profileName.(string); ok {
				if profile, err := self.link.profileManager.GetProfile(name); err == nil {
					callbacks = append(callbacks, func() {
						profile.RunSetCallback(params)
					})
				}
				// unknown profile degrades to no-op
			}
		}
	}
	return callbacks
}

// AddValueObserver registers a synchronous observer invoked on value
// change ahead of the profile set callback. Returns a removal handle.
func (self *Node) AddValueObserver(observer SetCallback) int {
	return self.valueObservers.add(observer)
}

func (self *Node) RemoveValueObserver(handle int) {
	self.valueObservers.remove(handle)
}

// Config returns the config entry for key. A missing key is a lookup
// error and propagates.
func (self *Node) Config(key string) (any, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	value, ok := self.config.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: config %s on %s", ErrNoSuchKey, key, self.path)
	}
	return value, nil
}

// SetConfig sets a $-prefixed config entry, marks the link structure
// changed, and notifies stream subscribers.
func (self *Node) SetConfig(key string, value any) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.setConfig(key, value)
}

func (self *Node) setConfig(key string, value any) {
	self.markNodesChanged()
	self.config.set(key, value)
	self.updateSubscribers()
}

func (self *Node) removeConfig(key string) error {
	if !self.config.delete(key) {
		return fmt.Errorf("%w: config %s on %s", ErrNoSuchKey, key, self.path)
	}
	self.markNodesChanged()
	self.updateSubscribers()
	return nil
}

// Attribute returns the attribute entry for key. A missing key is a
// lookup error and propagates.
func (self *Node) Attribute(key string) (any, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	value, ok := self.attributes.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: attribute %s on %s", ErrNoSuchKey, key, self.path)
	}
	return value, nil
}

// SetAttribute sets an @-prefixed attribute entry, marks the link
// structure changed, and notifies stream subscribers.
func (self *Node) SetAttribute(key string, value any) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.setAttribute(key, value)
}

func (self *Node) setAttribute(key string, value any) {
	self.markNodesChanged()
	self.attributes.set(key, value)
	self.updateSubscribers()
}

func (self *Node) removeAttribute(key string) error {
	if !self.attributes.delete(key) {
		return fmt.Errorf("%w: attribute %s on %s", ErrNoSuchKey, key, self.path)
	}
	self.markNodesChanged()
	self.updateSubscribers()
	return nil
}

// SetDisplayName sets the $name config entry.
func (self *Node) SetDisplayName(name string) {
	self.SetConfig("$name", name)
}

// SetProfile sets the $is config entry, selecting the profile whose
// callbacks back this node.
func (self *Node) SetProfile(profile string) {
	self.SetConfig("$is", profile)
}

// SetWritable sets the $writable permission.
func (self *Node) SetWritable(permission string) {
	self.SetConfig("$writable", permission)
}

// SetInvokable sets the $invokable permission. It accepts a permission
// string, or true meaning readable by everyone. Anything else is a
// validation error.
func (self *Node) SetInvokable(invokable any) error {
	switch v := invokable.(type) {
	case string:
		self.SetConfig("$invokable", v)
		return nil
	case bool:
		if v {
			self.SetConfig("$invokable", "read")
			return nil
		}
	}
	return fmt.Errorf("%w: invokable must be a permission string or true", ErrInvalidValue)
}

// SetParameters sets the $params action parameter list.
func (self *Node) SetParameters(parameters []any) {
	self.SetConfig("$params", parameters)
}

// SetColumns sets the $columns action return columns.
func (self *Node) SetColumns(columns []any) {
	self.SetConfig("$columns", columns)
}

// AddChild inserts a child constructed with this node as its parent.
// A duplicate name is an error and leaves children unchanged.
func (self *Node) AddChild(child *Node) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.children[child.name]; ok {
		return fmt.Errorf("%w: %s in %s", ErrChildExists, child.name, self.path)
	}
	self.children[child.name] = child
	self.childNames = append(self.childNames, child.name)
	self.markNodesChanged()
	self.updateSubscribers()
	return nil
}

// RemoveChild detaches the named child into the tombstone buffer and
// notifies stream subscribers. The child object stays valid until the
// next structural read drains the tombstone. Returns false when no such
// child exists.
func (self *Node) RemoveChild(name string) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	child, ok := self.children[name]
	if !ok {
		return false
	}
	delete(self.children, name)
	i := slices.Index(self.childNames, name)
	self.childNames = slices.Delete(self.childNames, i, i+1)
	self.removedChildren = append(self.removedChildren, child)
	self.updateSubscribers()
	return true
}

func (self *Node) HasChild(name string) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	_, ok := self.children[name]
	return ok
}

func (self *Node) Child(name string) (*Node, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	child, ok := self.children[name]
	return child, ok
}

// ChildNames returns the child names in insertion order.
func (self *Node) ChildNames() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return slices.Clone(self.childNames)
}

// Get resolves an absolute path starting at this node. "/", and any path
// addressing a config or attribute, resolve to this node; otherwise the
// first segment names a child to recurse into. A missing child is logged
// and returns nil rather than propagating: callers treat a nil result as
// not found.
func (self *Node) Get(path string) *Node {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.get(path)
}

func (self *Node) get(path string) *Node {
	if path == "" || path == "/" ||
		strings.HasPrefix(path, "/$") || strings.HasPrefix(path, "/@") {
		return self
	}
	name, rest := splitChildPath(path)
	child, ok := self.children[name]
	if !ok {
		glog.Warningf("non-existent node requested %s on %s", path, self.path)
		return nil
	}
	if rest == "" {
		return child
	}
	return child.get(rest)
}

// splitChildPath splits "/name/rest..." into "name" and "/rest...".
func splitChildPath(path string) (string, string) {
	if i := strings.Index(path[1:], "/"); 0 <= i {
		return path[1 : 1+i], path[1+i:]
	}
	return path[1:], ""
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); 0 <= i {
		return path[i+1:]
	}
	return path
}

// SetConfigAttr routes a fully qualified path to the correct target: an
// exact node path sets the value (triggering callbacks), a $-suffixed
// path sets config, an @-suffixed path sets an attribute. A path that
// does not resolve is ignored.
func (self *Node) SetConfigAttr(path string, value any) {
	if path == "/" || path == self.path {
		self.SetValue(value, true)
		return
	}
	target := self.Get(path)
	if target == nil {
		return
	}
	segment := lastSegment(path)
	switch {
	case strings.HasPrefix(segment, "$"):
		target.SetConfig(segment, value)
	case strings.HasPrefix(segment, "@"):
		target.SetAttribute(segment, value)
	default:
		target.SetValue(value, true)
	}
}

// RemoveConfigAttr removes the config or attribute addressed by path.
// Removing a missing key is a lookup error; a path that names neither a
// config nor an attribute is a validation error.
func (self *Node) RemoveConfigAttr(path string) error {
	target := self.Get(path)
	if target == nil {
		return fmt.Errorf("%w: %s on %s", ErrNoSuchNode, path, self.path)
	}
	segment := lastSegment(path)
	target.mu.Lock()
	defer target.mu.Unlock()
	switch {
	case strings.HasPrefix(segment, "$"):
		return target.removeConfig(segment)
	case strings.HasPrefix(segment, "@"):
		return target.removeAttribute(segment)
	default:
		return fmt.Errorf("%w: %s does not address a config or attribute", ErrInvalidValue, path)
	}
}

// Invoke runs the action backing this node with params. The declared
// $columns (default empty) and the profile callback's result rows are
// returned; an unknown or unset profile yields empty columns and rows.
func (self *Node) Invoke(params map[string]any) ([]any, []any) {
	self.mu.Lock()
	glog.V(1).Infof("%s invoked with parameters %v", self.path, params)
	columns := []any{}
	if v, ok := self.config.get("$columns"); ok {
		if cols, ok := v.([]any); ok {
			columns = cols
		}
	}
	var profileName string
	if v, ok := self.config.get("$is"); ok {
		profileName, _ = v.(string)
	}
	link := self.link
	self.mu.Unlock()

	if link == nil {
		return []any{}, []any{}
	}
	profile, err := link.profileManager.GetProfile(profileName)
	if err != nil {
		return []any{}, []any{}
	}
	results := profile.RunCallback(&CallbackParameters{
		Node:   self,
		Params: params,
	})
	return columns, results
}

// IsSubscribed reports whether any value subscription is open.
func (self *Node) IsSubscribed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return 0 < len(self.subscribers)
}

// AddSubscriber opens a value subscription and immediately notifies it of
// the current value, so a new subscriber does not wait for the next
// mutation.
func (self *Node) AddSubscriber(sid int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.subscribers = append(self.subscribers, sid)
	self.updateSubscriberValues()
}

// RemoveSubscriber is a pure membership removal.
func (self *Node) RemoveSubscriber(sid int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if i := slices.Index(self.subscribers, sid); 0 <= i {
		self.subscribers = slices.Delete(self.subscribers, i, i+1)
	}
}

// AddStream opens a structural stream identified by the request id and
// sends it the initial structural batch.
func (self *Node) AddStream(rid int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.streams = append(self.streams, rid)
	if !self.canEmit() {
		return
	}
	self.link.send(&Message{
		Responses: []*Response{{
			Rid:     rid,
			Stream:  StreamOpen,
			Updates: self.streamRows(),
		}},
	})
}

// RemoveStream is a pure membership removal.
func (self *Node) RemoveStream(rid int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if i := slices.Index(self.streams, rid); 0 <= i {
		self.streams = slices.Delete(self.streams, i, i+1)
	}
}

// canEmit reports whether mutations on this subtree may reach the wire:
// the link exists and is either active or the structure is standalone.
func (self *Node) canEmit() bool {
	return self.link != nil && (self.standalone || self.link.Active())
}

// streamRows computes one structural batch: config pairs, then attribute
// pairs, then one descriptor per live child, then one tombstone per
// removed child. Reading drains the tombstone buffer; a second read
// reports no further removals.
func (self *Node) streamRows() []any {
	rows := []any{}
	for _, key := range self.config.orderedKeys() {
		value, _ := self.config.get(key)
		rows = append(rows, []any{key, value})
	}
	for _, key := range self.attributes.orderedKeys() {
		value, _ := self.attributes.get(key)
		rows = append(rows, []any{key, value})
	}
	for _, name := range self.childNames {
		child := self.children[name]
		descriptor := map[string]any{}
		child.config.copyInto(descriptor)
		child.attributes.copyInto(descriptor)
		if child.value.HasValue() {
			descriptor["value"] = child.value.Raw()
			descriptor["ts"] = child.value.UpdatedAtISO()
		}
		rows = append(rows, []any{child.name, descriptor})
	}
	for _, removed := range self.removedChildren {
		rows = append(rows, map[string]any{
			"name":   removed.name,
			"change": "remove",
		})
		self.markNodesChanged()
	}
	self.removedChildren = nil
	return rows
}

// updateSubscribers emits one structural batch to every open stream.
// With zero streams the mutation is a pure local state change: nothing
// is computed, nothing is drained, nothing is sent.
func (self *Node) updateSubscribers() {
	if !self.canEmit() || len(self.streams) == 0 {
		return
	}
	// compute once and share so tombstones drain exactly once
	rows := self.streamRows()
	responses := make([]*Response, 0, len(self.streams))
	for _, rid := range self.streams {
		responses = append(responses, &Response{
			Rid:     rid,
			Stream:  StreamOpen,
			Updates: rows,
		})
	}
	self.link.send(&Message{
		Responses: responses,
	})
}

// updateSubscriberValues emits the current value to every subscriber as a
// single rid 0 message. Only the latest value is ever sent; nothing fires
// before the first assignment or with zero subscribers.
func (self *Node) updateSubscriberValues() {
	if !self.canEmit() || !self.value.HasValue() || len(self.subscribers) == 0 {
		return
	}
	updates := make([]any, 0, len(self.subscribers))
	for _, sid := range self.subscribers {
		updates = append(updates, []any{
			sid,
			self.value.Raw(),
			self.value.UpdatedAtISO(),
		})
	}
	self.link.send(&Message{
		Responses: []*Response{{
			Rid:     0,
			Updates: updates,
		}},
	})
}

func (self *Node) markNodesChanged() {
	if self.link != nil {
		self.link.markNodesChanged()
	}
}
