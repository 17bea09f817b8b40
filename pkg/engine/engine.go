package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds engine tuning.
type Config struct {
	// InvocationTimeoutSeconds bounds one whole graph run.
	InvocationTimeoutSeconds int `yaml:"invocation_timeout_seconds" json:"invocation_timeout_seconds"`

	// CheckpointTTLSeconds is the dedup window for identical repeated
	// requests. Zero disables checkpointing.
	CheckpointTTLSeconds int `yaml:"checkpoint_ttl_seconds" json:"checkpoint_ttl_seconds"`

	// FanOutConcurrent opts the SEARCH_ALL subset into concurrent
	// execution. Off by default: sub-handlers run in declaration order.
	// A request can opt in per invocation via the "concurrent" optional
	// argument.
	FanOutConcurrent bool `yaml:"fan_out_concurrent" json:"fan_out_concurrent"`

	// FanOutCancelOnFailure cancels concurrent siblings on the first
	// hard failure. Off by default: siblings run to completion and the
	// failure is reported after the barrier.
	FanOutCancelOnFailure bool `yaml:"fan_out_cancel_on_failure" json:"fan_out_cancel_on_failure"`
}

// DefaultConfig returns engine defaults: 120s per invocation, 60s
// dedup window, sequential fan-out.
func DefaultConfig() Config {
	return Config{
		InvocationTimeoutSeconds: 120,
		CheckpointTTLSeconds:     60,
	}
}

func (c Config) invocationTimeout() time.Duration {
	if c.InvocationTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.InvocationTimeoutSeconds) * time.Second
}

func (c Config) checkpointTTL() time.Duration {
	return time.Duration(c.CheckpointTTLSeconds) * time.Second
}

// EventType tags a streaming event.
type EventType int

const (
	// EventNode reports the active node changing.
	EventNode EventType = iota
	// EventAnswerStart marks the beginning of final output. Emitted
	// exactly once per invocation, always before any fragment.
	EventAnswerStart
	// EventFragment carries one literal piece of the final answer.
	EventFragment
)

// Event is one engine-side occurrence during a streaming invocation.
type Event struct {
	Type EventType
	Node NodeID
	Text string
}

// Request is one top-level invocation.
type Request struct {
	SessionID    string
	Instruction  string
	Mode         Mode
	OptionalArgs map[string]string
	History      []session.Message
}

// Result is the invocation outcome.
type Result struct {
	Answer   string
	Messages []session.Message
	Cached   bool
}

// Engine executes the workflow graph. One Engine serves all sessions;
// each invocation owns its own State.
type Engine struct {
	completer   Completer
	invoker     HandlerInvoker
	config      Config
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	checkpoints *checkpointStore
	tracer      trace.Tracer
}

// invocation is the per-run binding of engine, state and observer.
type invocation struct {
	e    *Engine
	st   *State
	emit func(Event)
}

// New creates an engine. metrics may be nil.
func New(completer Completer, invoker HandlerInvoker, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		completer:   completer,
		invoker:     invoker,
		config:      cfg,
		logger:      logger.With("component", "engine"),
		metrics:     metrics,
		checkpoints: newCheckpointStore(cfg.checkpointTTL()),
		tracer:      otel.Tracer("agentd/engine"),
	}
}

// Execute runs the graph to completion and returns the final state.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	return e.run(ctx, req, nil)
}

// ExecuteStream runs the graph, reporting node transitions and answer
// fragments through emit as they happen. emit is called from the
// invocation's goroutine, in order.
func (e *Engine) ExecuteStream(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	return e.run(ctx, req, emit)
}

func (e *Engine) run(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.invocationTimeout())
	defer cancel()
	ctx, _ = correlation.Ensure(ctx)

	logger := correlation.Logger(ctx, e.logger).With("session_id", req.SessionID, "mode", string(req.Mode))
	start := time.Now()

	key := NewCheckpointKey(req.SessionID, req.Instruction)
	if answer, ok := e.checkpoints.lookup(key); ok {
		logger.Info("checkpoint hit, skipping execution")
		if emit != nil {
			emit(Event{Type: EventAnswerStart})
			emit(Event{Type: EventFragment, Text: answer})
		}
		e.record(req.Mode, "cached", time.Since(start))
		return Result{Answer: answer, Cached: true}, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.invocation", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("workflow.mode", string(req.Mode)),
	))
	defer span.End()

	st := &State{
		Instruction:  req.Instruction,
		Messages:     append([]session.Message{}, req.History...),
		Mode:         req.Mode,
		OptionalArgs: req.OptionalArgs,
		Current:      NodeInit,
	}
	inv := &invocation{e: e, st: st, emit: emit}

	for st.Current != NodeEnd {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			e.record(req.Mode, "cancelled", time.Since(start))
			return Result{}, fmt.Errorf("invocation cancelled at node %s: %w", st.Current, err)
		}

		res, err := inv.step(ctx, st.Current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "node failed")
			e.record(req.Mode, "error", time.Since(start))
			logger.Error("invocation failed", "node", string(st.Current), "error", err)
			if errors.Is(err, ErrInternal) {
				return Result{}, err
			}
			return Result{}, &InternalError{Node: st.Current, Err: err}
		}

		res.apply(st)
		st.Step++

		to, err := next(st.Current, res)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "undeclared edge")
			e.record(req.Mode, "error", time.Since(start))
			return Result{}, err
		}
		st.Current = to
	}

	e.checkpoints.commit(key, st.Answer)
	e.record(req.Mode, "success", time.Since(start))
	span.SetStatus(codes.Ok, "")
	logger.Info("invocation complete", "steps", st.Step, "answer_len", len(st.Answer))

	return Result{Answer: st.Answer, Messages: st.Messages}, nil
}

// step executes one node inside its own span and timing window.
func (inv *invocation) step(ctx context.Context, id NodeID) (NodeResult, error) {
	if inv.emit != nil {
		inv.emit(Event{Type: EventNode, Node: id})
	}

	fn, err := inv.nodeFor(id)
	if err != nil {
		return NodeResult{}, err
	}

	ctx, span := inv.e.tracer.Start(ctx, "engine.node", trace.WithAttributes(
		attribute.String("workflow.node", string(id)),
	))
	defer span.End()

	start := time.Now()
	res, err := fn(ctx, inv.st)
	if inv.e.metrics != nil {
		inv.e.metrics.RecordNode(string(id), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "")
	}
	return res, err
}

// degrade records a handler failure that was absorbed at the node
// boundary instead of failing the invocation.
func (e *Engine) degrade(ctx context.Context, node NodeID, err error) {
	correlation.Logger(ctx, e.logger).Warn("node degraded", "node", string(node), "error", err)
	if e.metrics != nil {
		e.metrics.RecordNodeFailure(string(node), "handler_unavailable")
	}
}

func (e *Engine) record(mode Mode, outcome string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordInvocation(string(mode), outcome, d)
	}
}
