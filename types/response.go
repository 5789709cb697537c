package types

// ResponseType is the discriminator of response frames.
const ResponseType = "response"

// Response answers one request. Exactly one payload field is set on success.
type Response struct {
	Type   string `msgpack:"type" json:"type"`
	Seq    int64  `msgpack:"seq" json:"seq"`
	Action Action `msgpack:"action" json:"action"`
	OK     bool   `msgpack:"ok" json:"ok"`
	Error  string `msgpack:"error,omitempty" json:"error,omitempty"`

	// Content is the fetched script text (loadScript).
	Content *string `msgpack:"content,omitempty" json:"content,omitempty"`
	// Summary answers getGlobalCoveragePercent and submitCoverageInfo.
	Summary *Summary `msgpack:"summary,omitempty" json:"summary,omitempty"`
	// Report answers showCoverage.
	Report *ReportTree `msgpack:"report,omitempty" json:"report,omitempty"`
}

// NewResponse returns a successful response skeleton for action.
func NewResponse(action Action, seq int64) *Response {
	return &Response{Type: ResponseType, Seq: seq, Action: action, OK: true}
}

// ErrorResponse returns a failed response carrying err.
func ErrorResponse(action Action, seq int64, err error) *Response {
	return &Response{Type: ResponseType, Seq: seq, Action: action, OK: false, Error: err.Error()}
}
