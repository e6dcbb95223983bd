package router

import (
	"context"
	"errors"
	"io"

	"recap-gateway/internal/models"
	"recap-gateway/internal/provider"
	"recap-gateway/internal/provider/openai"
	"recap-gateway/internal/stream"
)

// Relay forwards a vendor's event stream to the caller.
type Relay interface {
	// Start is called once, with the serving vendor, when the first frame has been
	// decoded and before any bytes are written. No fallback happens after Start.
	Start(provider string) error
	// Write receives the vendor's bytes unmodified, in arrival order.
	io.Writer
	// Fail is called when the upstream read breaks after Start.
	Fail(provider string, err error) error
}

// StreamOptions configures a streaming call.
type StreamOptions struct {
	// Relay receives raw bytes. It may be nil when the caller only wants frames.
	Relay Relay
	// OnFrame observes every decoded frame.
	OnFrame func(models.StreamFrame)
}

// Stream performs a streaming call with failover up to the point a vendor's stream
// opens. It returns the assembled result once the upstream stream ends.
//
// When the upstream read fails after relaying began, Stream returns the partial
// result together with a *StreamInterruptedError.
func (r *Router) Stream(ctx context.Context, req models.ChatRequest, opts StreamOptions) (*models.ChatResult, error) {
	req.Stream = true

	var (
		result      *models.ChatResult
		interrupted error
	)
	attempts, err := r.failover(ctx, req, func(ctx context.Context, v provider.Vendor) error {
		res, err := r.attemptStream(ctx, v, req, opts)
		if res != nil {
			result = res
		}
		var interruptErr *StreamInterruptedError
		if errors.As(err, &interruptErr) {
			// Counts as served: no fallback after output reached the caller.
			interrupted = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Attempts = attempts
	return result, interrupted
}

// ErrEmptyStream reports a vendor stream that ended before producing any frame.
var ErrEmptyStream = errors.New("stream ended without any frame")

func (r *Router) attemptStream(ctx context.Context, v provider.Vendor, req models.ChatRequest, opts StreamOptions) (*models.ChatResult, error) {
	payload, err := openai.BuildPayload(v, req, r.temperature)
	if err != nil {
		return nil, &haltError{err: err}
	}

	start := r.now()
	body, err := r.transport.OpenStream(ctx, v, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	gate := &relayGate{relay: opts.Relay, provider: v.ID}
	acc := stream.NewAccumulator(start)
	acc.SetClock(r.now)
	decoder := stream.NewDecoder(func(f models.StreamFrame) {
		if !gate.ready {
			gate.ready = body.Ready()
		}
		acc.Add(f)
		if opts.OnFrame != nil {
			opts.OnFrame(f)
		}
	})

	_, copyErr := stream.Copy(gate, body, decoder)
	elapsed := r.now().Sub(start)

	if decoder.Skipped() > 0 {
		r.logger.Debug("skipped malformed frames", "provider", v.ID, "count", decoder.Skipped())
	}
	if gate.startErr != nil {
		return nil, &haltError{err: gate.startErr}
	}
	if ctx.Err() != nil {
		return nil, &haltError{err: ctx.Err()}
	}

	if !gate.open && gate.ready && copyErr == nil {
		// The only frame sat on an unterminated last line and was decoded at EOF.
		if err := gate.commit(); err != nil {
			return nil, &haltError{err: err}
		}
	}
	if !gate.open {
		// Nothing reached the caller yet, so this vendor simply failed.
		if copyErr != nil {
			return nil, copyErr
		}
		return nil, &provider.VendorError{Provider: v.ID, Kind: provider.KindDecode, Err: ErrEmptyStream}
	}
	if copyErr == nil && !decoder.Done() {
		r.logger.Debug("stream ended without terminator", "provider", v.ID, "frames", acc.Frames())
	}

	result := r.assemble(v, acc.Content(), acc.Reasoning(), acc.Model(), acc.Usage(), acc.TTFT(), elapsed, nil)

	if copyErr == nil {
		return result, nil
	}

	var writeErr *stream.WriteError
	if errors.As(copyErr, &writeErr) {
		// The caller went away; nothing left to deliver.
		return result, &haltError{err: copyErr}
	}

	r.logger.Warn("upstream stream interrupted", "provider", v.ID, "frames", acc.Frames(), "error", copyErr)
	if opts.Relay != nil {
		if err := opts.Relay.Fail(v.ID, copyErr); err != nil {
			r.logger.Debug("relay failure marker not delivered", "provider", v.ID, "error", err)
		}
	}
	return result, &StreamInterruptedError{Provider: v.ID, Err: copyErr}
}

// relayGate holds upstream bytes back until the first frame is decoded, then starts
// the relay and forwards everything from then on.
type relayGate struct {
	relay    Relay
	provider string
	pending  []byte
	ready    bool
	open     bool
	startErr error
}

func (g *relayGate) Write(p []byte) (int, error) {
	if g.open {
		if g.relay == nil {
			return len(p), nil
		}
		return g.relay.Write(p)
	}
	g.pending = append(g.pending, p...)
	if !g.ready {
		return len(p), nil
	}
	if err := g.commit(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *relayGate) commit() error {
	g.open = true
	if g.relay == nil {
		g.pending = nil
		return nil
	}
	if err := g.relay.Start(g.provider); err != nil {
		g.startErr = err
		return err
	}
	pending := g.pending
	g.pending = nil
	if len(pending) == 0 {
		return nil
	}
	_, err := g.relay.Write(pending)
	return err
}
