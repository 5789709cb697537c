package types

import (
	"errors"
	"fmt"
)

// Action names one operation of the request model. The values follow the
// message vocabulary used by in-page probes.
type Action string

const (
	ActionLoadScript     Action = "loadScript"
	ActionSubmitCoverage Action = "submitCoverageInfo"
	ActionShowCoverage   Action = "showCoverage"
	ActionGetSummary     Action = "getGlobalCoveragePercent"
	ActionCollect        Action = "tabIsSelected"
	ActionCloseContext   Action = "closeContext"
)

// Request is one operation addressed to the host. Implementations are the
// *Request structs in this file; consumers switch on the concrete type.
type Request interface {
	Action() Action
	Context() string
	isRequest()
}

// LoadScriptRequest asks the host to fetch external script content.
type LoadScriptRequest struct {
	ContextID string
	URL       string
}

// SubmitCoverageRequest carries one execution's counts for a page.
type SubmitCoverageRequest struct {
	ContextID string
	Snapshot  *PageSnapshot
}

// ShowCoverageRequest asks for the full report tree.
type ShowCoverageRequest struct {
	ContextID string
}

// GetSummaryRequest asks for the status summary.
type GetSummaryRequest struct {
	ContextID string
}

// CollectRequest triggers a collection cycle in the execution context.
type CollectRequest struct {
	ContextID string
}

// CloseContextRequest ends a context and discards its coverage.
type CloseContextRequest struct {
	ContextID string
}

func (r *LoadScriptRequest) Action() Action     { return ActionLoadScript }
func (r *SubmitCoverageRequest) Action() Action { return ActionSubmitCoverage }
func (r *ShowCoverageRequest) Action() Action   { return ActionShowCoverage }
func (r *GetSummaryRequest) Action() Action     { return ActionGetSummary }
func (r *CollectRequest) Action() Action        { return ActionCollect }
func (r *CloseContextRequest) Action() Action   { return ActionCloseContext }

func (r *LoadScriptRequest) Context() string     { return r.ContextID }
func (r *SubmitCoverageRequest) Context() string { return r.ContextID }
func (r *ShowCoverageRequest) Context() string   { return r.ContextID }
func (r *GetSummaryRequest) Context() string     { return r.ContextID }
func (r *CollectRequest) Context() string        { return r.ContextID }
func (r *CloseContextRequest) Context() string   { return r.ContextID }

func (*LoadScriptRequest) isRequest()     {}
func (*SubmitCoverageRequest) isRequest() {}
func (*ShowCoverageRequest) isRequest()   {}
func (*GetSummaryRequest) isRequest()     {}
func (*CollectRequest) isRequest()        {}
func (*CloseContextRequest) isRequest()   {}

// ErrInvalidRequest is returned when an envelope cannot form a request.
var ErrInvalidRequest = errors.New("invalid request")

// RequestEnvelope is the wire form of a Request.
type RequestEnvelope struct {
	// Type is the action discriminator.
	Type Action `msgpack:"type" json:"type"`
	// ContractVersion is the frame contract version of the sender.
	ContractVersion string `msgpack:"contract_version" json:"contract_version"`
	// ContextID identifies the execution context.
	ContextID string `msgpack:"context_id" json:"context_id"`
	// Seq is echoed back in the response.
	Seq int64 `msgpack:"seq" json:"seq"`
	// URL is set for loadScript.
	URL string `msgpack:"url,omitempty" json:"url,omitempty"`
	// Snapshot is set for submitCoverageInfo.
	Snapshot *PageSnapshot `msgpack:"snapshot,omitempty" json:"snapshot,omitempty"`
}

// Request converts the envelope into its typed variant.
func (e *RequestEnvelope) Request() (Request, error) {
	if e.ContextID == "" {
		return nil, fmt.Errorf("%w: %s: missing context_id", ErrInvalidRequest, e.Type)
	}
	switch e.Type {
	case ActionLoadScript:
		if e.URL == "" {
			return nil, fmt.Errorf("%w: loadScript: missing url", ErrInvalidRequest)
		}
		return &LoadScriptRequest{ContextID: e.ContextID, URL: e.URL}, nil
	case ActionSubmitCoverage:
		if e.Snapshot == nil {
			return nil, fmt.Errorf("%w: submitCoverageInfo: missing snapshot", ErrInvalidRequest)
		}
		return &SubmitCoverageRequest{ContextID: e.ContextID, Snapshot: e.Snapshot}, nil
	case ActionShowCoverage:
		return &ShowCoverageRequest{ContextID: e.ContextID}, nil
	case ActionGetSummary:
		return &GetSummaryRequest{ContextID: e.ContextID}, nil
	case ActionCollect:
		return &CollectRequest{ContextID: e.ContextID}, nil
	case ActionCloseContext:
		return &CloseContextRequest{ContextID: e.ContextID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, e.Type)
	}
}

// NewRequestEnvelope builds the wire form of r.
func NewRequestEnvelope(r Request, seq int64) *RequestEnvelope {
	env := &RequestEnvelope{
		Type:            r.Action(),
		ContractVersion: ContractVersion,
		ContextID:       r.Context(),
		Seq:             seq,
	}
	switch v := r.(type) {
	case *LoadScriptRequest:
		env.URL = v.URL
	case *SubmitCoverageRequest:
		env.Snapshot = v.Snapshot
	}
	return env
}
