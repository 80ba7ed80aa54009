package dslink

import (
	"github.com/golang/glog"
)

// Responder owns the link's super root and applies inbound requests to
// it. It runs entirely on the transport's read goroutine; the rid and sid
// registries need no lock of their own, and the node tree serializes its
// own mutation.
type Responder struct {
	link      *Link
	superRoot *Node

	// open structural streams and value subscriptions, for close routing
	streamNodes       map[int]*Node
	subscriptionNodes map[int]*Node
}

func NewResponder(link *Link) *Responder {
	return &Responder{
		link:              link,
		superRoot:         NewRootNode(link),
		streamNodes:       map[int]*Node{},
		subscriptionNodes: map[int]*Node{},
	}
}

func (self *Responder) SuperRoot() *Node {
	return self.superRoot
}

// LoadJSON populates the super root from a persisted tree document.
func (self *Responder) LoadJSON(obj map[string]any) {
	populateFromJSON(obj, self.superRoot)
}

// HandleRequests applies one inbound batch and returns the immediate
// responses. Structural and value updates triggered by the mutations
// flow out through the notifier, not through the return value.
func (self *Responder) HandleRequests(requests []*Request) []*Response {
	responses := []*Response{}
	for _, request := range requests {
		if response := self.handleRequest(request); response != nil {
			responses = append(responses, response)
		}
	}
	return responses
}

func (self *Responder) handleRequest(request *Request) *Response {
	switch request.Method {
	case MethodList:
		node := self.superRoot.Get(request.Path)
		if node == nil {
			return errorResponse(request.Rid, "no such path: "+request.Path)
		}
		self.streamNodes[request.Rid] = node
		// the initial structural batch is emitted by AddStream
		node.AddStream(request.Rid)
		return nil

	case MethodSubscribe:
		for _, subscribePath := range request.Paths {
			node := self.superRoot.Get(subscribePath.Path)
			if node == nil {
				continue
			}
			self.subscriptionNodes[subscribePath.Sid] = node
			node.AddSubscriber(subscribePath.Sid)
		}
		return closedResponse(request.Rid)

	case MethodUnsubscribe:
		for _, sid := range request.Sids {
			if node, ok := self.subscriptionNodes[sid]; ok {
				node.RemoveSubscriber(sid)
				delete(self.subscriptionNodes, sid)
			}
		}
		return closedResponse(request.Rid)

	case MethodSet:
		self.superRoot.SetConfigAttr(request.Path, request.Value)
		return closedResponse(request.Rid)

	case MethodRemove:
		if err := self.superRoot.RemoveConfigAttr(request.Path); err != nil {
			glog.Warningf("remove %s failed: %s", request.Path, err)
			return errorResponse(request.Rid, err.Error())
		}
		return closedResponse(request.Rid)

	case MethodInvoke:
		node := self.superRoot.Get(request.Path)
		if node == nil {
			return errorResponse(request.Rid, "no such path: "+request.Path)
		}
		columns, results := node.Invoke(request.Params)
		return &Response{
			Rid:     request.Rid,
			Stream:  StreamClosed,
			Columns: columns,
			Updates: results,
		}

	case MethodClose:
		if node, ok := self.streamNodes[request.Rid]; ok {
			node.RemoveStream(request.Rid)
			delete(self.streamNodes, request.Rid)
		}
		return nil

	default:
		glog.Warningf("unknown method %s rid=%d", request.Method, request.Rid)
		return errorResponse(request.Rid, "unknown method: "+request.Method)
	}
}

func closedResponse(rid int) *Response {
	return &Response{
		Rid:    rid,
		Stream: StreamClosed,
	}
}

func errorResponse(rid int, msg string) *Response {
	return &Response{
		Rid:    rid,
		Stream: StreamClosed,
		Error: &ResponseError{
			Msg: msg,
		},
	}
}
