package handler

import "encoding/json"

// Bridge message types.
const (
	// page → host
	MsgLocation = "location"
	MsgAction   = "action"
	MsgNavigate = "navigate"
	MsgBack     = "back"

	// host → page
	MsgRoute      = "route"
	MsgReplaceURL = "replace_url"
	MsgNotice     = "notice"
	MsgResult     = "result"
	MsgOpenURL    = "open_url"
)

// Message is one bridge frame. Only the fields of its Type are set.
type Message struct {
	Type string `json:"type"`

	// ID correlates an action with its result.
	ID string `json:"id,omitempty"`

	URL     string            `json:"url,omitempty"`
	Route   string            `json:"route,omitempty"`
	Routes  []string          `json:"routes,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Message string            `json:"message,omitempty"`

	Action string          `json:"action,omitempty"`
	Fields json.RawMessage `json:"fields,omitempty"`

	OK    bool           `json:"ok,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
	Data  any            `json:"data,omitempty"`
}
