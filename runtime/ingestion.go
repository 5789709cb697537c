package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/ipc"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// IngestionError classifies ingestion errors for outcome determination.
type IngestionError struct {
	// Kind indicates whether this is a stream/frame error or a handler error.
	Kind IngestionErrorKind
	// Err is the underlying error.
	Err error
}

// IngestionErrorKind classifies ingestion errors.
type IngestionErrorKind int

const (
	// IngestionErrorStream indicates a frame/stream error (executor crash outcome).
	IngestionErrorStream IngestionErrorKind = iota
	// IngestionErrorHandler indicates the host could not record a request
	// (store failure outcome).
	IngestionErrorHandler
	// IngestionErrorCanceled indicates context cancellation (executor crash outcome).
	IngestionErrorCanceled
)

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsHandlerError returns true if the error is a handler failure.
func IsHandlerError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorHandler
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorCanceled
	}
	return false
}

// IsStreamError returns true if the error is a stream/frame error.
func IsStreamError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorStream
	}
	return false
}

// IngestionEngine reads request frames from an execution context and
// dispatches them to a Host.
//
//   - Frames are read in order
//   - Sequence numbers must strictly increase
//   - Invalid framing is fatal (no resync)
//   - A request the host rejects is answered with an error response
//   - A store failure while recording coverage terminates ingestion
//
// When a response writer is configured every request is answered with a
// response frame carrying the request's seq.
type IngestionEngine struct {
	decoder   *ipc.FrameDecoder
	responses *ipc.FrameEncoder
	host      *Host
	logger    *log.Logger
	collector *metrics.Collector

	lastSeq     int64
	requests    int64
	submissions int64
	rejected    int64
}

// NewIngestionEngine creates a new ingestion engine. responses may be nil.
func NewIngestionEngine(
	reader io.Reader,
	responses *ipc.FrameEncoder,
	host *Host,
	logger *log.Logger,
	collector *metrics.Collector,
) *IngestionEngine {
	return &IngestionEngine{
		decoder:   ipc.NewFrameDecoder(reader),
		responses: responses,
		host:      host,
		logger:    logger,
		collector: collector,
	}
}

// Run runs the ingestion loop until EOF or fatal error.
// Returns:
//   - nil: stream ended cleanly (EOF)
//   - *IngestionError with Kind=IngestionErrorStream: frame/stream error
//   - *IngestionError with Kind=IngestionErrorHandler: store failure
//   - *IngestionError with Kind=IngestionErrorCanceled: context canceled
func (e *IngestionEngine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return &IngestionError{
				Kind: IngestionErrorCanceled,
				Err:  ctx.Err(),
			}
		default:
		}

		payload, err := e.decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
			}
			e.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			e.collector.IncExecutorCrash()
			return &IngestionError{
				Kind: IngestionErrorStream,
				Err:  fmt.Errorf("frame error: %w", err),
			}
		}

		if err := e.processFrame(ctx, payload); err != nil {
			if IsStreamError(err) {
				e.collector.IncExecutorCrash()
			}
			return err
		}
	}
}

// processFrame decodes and processes a single frame.
func (e *IngestionEngine) processFrame(ctx context.Context, payload []byte) error {
	decoded, err := ipc.DecodeFrame(payload)
	if err != nil {
		e.logger.Error("frame decode error", map[string]any{
			"error": err.Error(),
		})
		e.collector.IncIPCDecodeErrors()
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("frame decode error: %w", err),
		}
	}

	switch frame := decoded.(type) {
	case *types.RequestEnvelope:
		return e.processRequest(ctx, frame)
	case *types.Response:
		// Contexts only answer with requests; a stray response is noise.
		e.logger.Warn("ignoring response frame from execution context", map[string]any{
			"seq":    frame.Seq,
			"action": frame.Action,
		})
		return nil
	default:
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("unexpected frame type: %T", decoded),
		}
	}
}

func (e *IngestionEngine) processRequest(ctx context.Context, env *types.RequestEnvelope) error {
	if env.ContractVersion != types.ContractVersion {
		e.logger.Error("envelope validation failed", map[string]any{
			"expected": types.ContractVersion,
			"got":      env.ContractVersion,
			"type":     env.Type,
		})
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err: fmt.Errorf("contract version mismatch: expected %s, got %s",
				types.ContractVersion, env.ContractVersion),
		}
	}

	if env.Seq <= e.lastSeq {
		e.logger.Error("sequence violation", map[string]any{
			"last": e.lastSeq,
			"got":  env.Seq,
			"type": env.Type,
		})
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("sequence violation: last %d, got %d", e.lastSeq, env.Seq),
		}
	}
	e.lastSeq = env.Seq
	e.requests++

	req, err := env.Request()
	if err != nil {
		if env.Type == types.ActionSubmitCoverage {
			e.collector.IncSubmissionRejected()
		}
		return e.reject(env, err)
	}

	resp, err := e.host.Handle(ctx, req)
	if err != nil {
		if errors.Is(err, aggregate.ErrStore) {
			e.logger.Error("host failed to record request", map[string]any{
				"context_id": env.ContextID,
				"type":       env.Type,
				"seq":        env.Seq,
				"error":      err.Error(),
			})
			return &IngestionError{
				Kind: IngestionErrorHandler,
				Err:  fmt.Errorf("handler failure: %w", err),
			}
		}
		if ctx.Err() != nil {
			return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
		}
		return e.reject(env, err)
	}

	if env.Type == types.ActionSubmitCoverage {
		e.submissions++
	}
	resp.Seq = env.Seq
	return e.respond(resp)
}

// reject answers a request that could not be served. It is not fatal.
func (e *IngestionEngine) reject(env *types.RequestEnvelope, cause error) error {
	e.rejected++
	e.logger.Warn("request rejected", map[string]any{
		"context_id": env.ContextID,
		"type":       env.Type,
		"seq":        env.Seq,
		"error":      cause.Error(),
	})
	return e.respond(types.ErrorResponse(env.Type, env.Seq, cause))
}

// respond writes resp. A context may stop reading once it has submitted
// its final snapshot, so write failures are logged and not fatal.
func (e *IngestionEngine) respond(resp *types.Response) error {
	if e.responses == nil {
		return nil
	}
	if err := e.responses.WriteFrame(resp); err != nil {
		e.logger.Debug("response not delivered", map[string]any{
			"seq":   resp.Seq,
			"error": err.Error(),
		})
	}
	return nil
}

// Requests returns the number of well-formed request frames read.
func (e *IngestionEngine) Requests() int64 { return e.requests }

// Submissions returns the number of accepted coverage submissions.
func (e *IngestionEngine) Submissions() int64 { return e.submissions }

// Rejected returns the number of requests answered with an error.
func (e *IngestionEngine) Rejected() int64 { return e.rejected }

// LastSeq returns the last sequence number seen.
func (e *IngestionEngine) LastSeq() int64 { return e.lastSeq }
