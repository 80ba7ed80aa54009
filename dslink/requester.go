package dslink

import (
	"sync"

	"github.com/golang/glog"
)

// ResponseHandler receives the responses for a request issued by the
// Requester, on the transport's read goroutine.
type ResponseHandler func(response *Response)

// ValueHandler receives value updates for an open subscription.
type ValueHandler func(value any, timestamp string)

// Requester issues requests to the broker and routes responses back to
// their handlers. Request ids are allocated here; subscription ids are
// chosen by the caller.
type Requester struct {
	link *Link

	mu            sync.Mutex
	nextRid       int
	pending       map[int]ResponseHandler
	subscriptions map[int]ValueHandler
}

func NewRequester(link *Link) *Requester {
	return &Requester{
		link:          link,
		pending:       map[int]ResponseHandler{},
		subscriptions: map[int]ValueHandler{},
	}
}

func (self *Requester) nextRequestId() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.nextRid += 1
	return self.nextRid
}

func (self *Requester) register(rid int, handler ResponseHandler) {
	if handler == nil {
		return
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.pending[rid] = handler
}

// List opens a structural stream on path. Returns the request id, which
// identifies the stream until Close.
func (self *Requester) List(path string, handler ResponseHandler) int {
	rid := self.nextRequestId()
	self.register(rid, handler)
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodList,
			Path:   path,
		}},
	})
	return rid
}

// Subscribe opens a value subscription on path under the caller-chosen
// sid.
func (self *Requester) Subscribe(path string, sid int, handler ValueHandler) int {
	if handler != nil {
		self.mu.Lock()
		self.subscriptions[sid] = handler
		self.mu.Unlock()
	}
	rid := self.nextRequestId()
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodSubscribe,
			Paths: []SubscribePath{{
				Path: path,
				Sid:  sid,
			}},
		}},
	})
	return rid
}

func (self *Requester) Unsubscribe(sid int) int {
	self.mu.Lock()
	delete(self.subscriptions, sid)
	self.mu.Unlock()
	rid := self.nextRequestId()
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodUnsubscribe,
			Sids:   []int{sid},
		}},
	})
	return rid
}

// Invoke runs the action at path with params.
func (self *Requester) Invoke(path string, params map[string]any, handler ResponseHandler) int {
	rid := self.nextRequestId()
	self.register(rid, handler)
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodInvoke,
			Path:   path,
			Params: params,
		}},
	})
	return rid
}

// Set writes a value, config, or attribute at path.
func (self *Requester) Set(path string, value any, handler ResponseHandler) int {
	rid := self.nextRequestId()
	self.register(rid, handler)
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodSet,
			Path:   path,
			Value:  value,
		}},
	})
	return rid
}

// Close closes an open stream.
func (self *Requester) Close(rid int) {
	self.mu.Lock()
	delete(self.pending, rid)
	self.mu.Unlock()
	self.link.send(&Message{
		Requests: []*Request{{
			Rid:    rid,
			Method: MethodClose,
		}},
	})
}

// HandleResponses routes one inbound response batch. Rid 0 rows are
// value updates keyed by sid; anything else routes to the pending
// request handler, which is released when the broker closes the stream.
func (self *Requester) HandleResponses(responses []*Response) {
	for _, response := range responses {
		if response.Rid == 0 {
			self.handleValueUpdates(response)
			continue
		}

		self.mu.Lock()
		handler, ok := self.pending[response.Rid]
		if ok && response.Stream == StreamClosed {
			delete(self.pending, response.Rid)
		}
		self.mu.Unlock()

		if !ok {
			glog.V(1).Infof("response for unknown rid %d", response.Rid)
			continue
		}
		handler(response)
	}
}

func (self *Requester) handleValueUpdates(response *Response) {
	for _, update := range response.Updates {
		row, ok := update.([]any)
		if !ok || len(row) < 3 {
			continue
		}
		sid, ok := asInt(row[0])
		if !ok {
			continue
		}
		self.mu.Lock()
		handler, ok := self.subscriptions[sid]
		self.mu.Unlock()
		if !ok {
			continue
		}
		timestamp, _ := row[2].(string)
		handler(row[1], timestamp)
	}
}

// asInt accepts the integer forms produced by both local dispatch and
// JSON decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
