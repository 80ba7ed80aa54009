package dslink

// JSON message shapes of the node protocol. Every frame on the wire is one
// Message; the msg counter is stamped by the transport send loop.

const (
	StreamOpen   = "open"
	StreamClosed = "closed"
)

const (
	MethodList        = "list"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
	MethodSet         = "set"
	MethodRemove      = "remove"
	MethodInvoke      = "invoke"
	MethodClose       = "close"
)

type Message struct {
	Msg       int         `json:"msg,omitempty"`
	Ack       int         `json:"ack,omitempty"`
	Requests  []*Request  `json:"requests,omitempty"`
	Responses []*Response `json:"responses,omitempty"`
}

type Request struct {
	Rid    int              `json:"rid"`
	Method string           `json:"method"`
	Path   string           `json:"path,omitempty"`
	Paths  []SubscribePath  `json:"paths,omitempty"`
	Sids   []int            `json:"sids,omitempty"`
	Permit string           `json:"permit,omitempty"`
	Params map[string]any   `json:"params,omitempty"`
	Value  any              `json:"value,omitempty"`
}

type SubscribePath struct {
	Path string `json:"path"`
	Sid  int    `json:"sid"`
}

// Response rid 0 is reserved for value-change updates, which are not tied
// to a specific open request. It must serialize, so rid has no omitempty.
type Response struct {
	Rid     int            `json:"rid"`
	Stream  string         `json:"stream,omitempty"`
	Updates []any          `json:"updates,omitempty"`
	Columns []any          `json:"columns,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Type   string `json:"type,omitempty"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}
