package dslink

import (
	"fmt"
	"sync"
)

// CallbackParameters carries one action invocation to profile code.
type CallbackParameters struct {
	Node   *Node
	Params map[string]any
}

// SetCallbackParameters carries one value change to profile code.
type SetCallbackParameters struct {
	Node  *Node
	Value any
}

// InvokeCallback produces the result rows for an action invocation.
type InvokeCallback func(params *CallbackParameters) []any

// SetCallback observes a value change.
type SetCallback func(params *SetCallbackParameters)

// Profile is a named behavior class. Nodes declare theirs through $is;
// the registered callbacks back those nodes' invoke and value-set
// behavior.
type Profile struct {
	name string

	mu             sync.Mutex
	invokeCallback InvokeCallback
	setCallback    SetCallback
}

func (self *Profile) Name() string {
	return self.name
}

func (self *Profile) OnInvoke(callback InvokeCallback) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.invokeCallback = callback
}

func (self *Profile) OnSet(callback SetCallback) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.setCallback = callback
}

// RunCallback invokes the action callback. Without one the action
// produces no rows.
func (self *Profile) RunCallback(params *CallbackParameters) []any {
	self.mu.Lock()
	callback := self.invokeCallback
	self.mu.Unlock()
	if callback == nil {
		return []any{}
	}
	return callback(params)
}

func (self *Profile) RunSetCallback(params *SetCallbackParameters) {
	self.mu.Lock()
	callback := self.setCallback
	self.mu.Unlock()
	if callback != nil {
		callback(params)
	}
}

// ProfileManager is the registry mapping profile names to callbacks.
type ProfileManager struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

func NewProfileManager() *ProfileManager {
	return &ProfileManager{
		profiles: map[string]*Profile{},
	}
}

// AddProfile registers (or returns the existing) profile under name.
func (self *ProfileManager) AddProfile(name string) *Profile {
	self.mu.Lock()
	defer self.mu.Unlock()
	if profile, ok := self.profiles[name]; ok {
		return profile
	}
	profile := &Profile{
		name: name,
	}
	self.profiles[name] = profile
	return profile
}

// GetProfile fails with a lookup error for unknown names. Call sites in
// the node layer catch it and degrade to a no-op.
func (self *ProfileManager) GetProfile(name string) (*Profile, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	profile, ok := self.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchProfile, name)
	}
	return profile, nil
}
