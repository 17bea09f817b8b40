package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/telemetry"
)

// Config holds stream tuning.
type Config struct {
	// WriteTimeoutSeconds bounds each frame write.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`

	// MaxMessageBytes caps inbound client frames.
	MaxMessageBytes int64 `yaml:"max_message_bytes" json:"max_message_bytes"`
}

// DefaultConfig returns stream defaults: 10s writes, 64KiB frames.
func DefaultConfig() Config {
	return Config{
		WriteTimeoutSeconds: 10,
		MaxMessageBytes:     64 << 10,
	}
}

func (c Config) writeTimeout() time.Duration {
	if c.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ChatRequest is one client request on the long-lived connection.
type ChatRequest struct {
	SessionID    string            `json:"session_id"`
	Question     string            `json:"question"`
	Mode         string            `json:"mode"`
	OptionalArgs map[string]string `json:"optional_args"`
}

func (r ChatRequest) validate() error {
	if r.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "is required"}
	}
	if r.Question == "" {
		return &ValidationError{Field: "question", Reason: "is required"}
	}
	return nil
}

// Bridge turns engine execution into the client frame protocol over a
// websocket. One connection serves many request/response cycles; one
// invocation runs at a time per connection.
type Bridge struct {
	engine   *engine.Engine
	store    *session.Store
	config   Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader
}

// NewBridge creates a bridge. metrics may be nil.
func NewBridge(eng *engine.Engine, store *session.Store, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		engine:  eng,
		store:   store,
		config:  cfg,
		logger:  logger.With("component", "stream"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection loop until the
// client leaves or an unrecoverable failure closes the stream.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if b.metrics != nil {
		b.metrics.StreamOpened()
		defer b.metrics.StreamClosed()
	}

	ctx, id := correlation.Ensure(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := b.logger.With("correlation_id", id)
	logger.Info("stream opened", "remote", conn.RemoteAddr().String())

	conn.SetReadLimit(b.config.MaxMessageBytes)

	// The reader runs for the connection's lifetime so a disconnect is
	// noticed even while an invocation is in flight; cancel() then stops
	// the engine and its handler RPCs.
	incoming := make(chan []byte)
	go func() {
		defer cancel()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case incoming <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream closed")
			return
		case raw := <-incoming:
			if fatal := b.serve(ctx, conn, raw, logger); fatal {
				logger.Info("stream closed after unrecoverable failure")
				return
			}
		}
	}
}

// serve handles one request cycle. The returned flag reports whether
// the connection must close.
func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn, raw []byte, logger *slog.Logger) bool {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		b.writeFrame(conn, errorFrame("요청 형식이 올바르지 않아요."))
		return false
	}
	if err := req.validate(); err != nil {
		logger.Warn("rejected client frame", "error", err)
		b.writeFrame(conn, errorFrame("요청 형식이 올바르지 않아요."))
		return false
	}

	logger = logger.With("session_id", req.SessionID)

	history, err := b.store.History(ctx, req.SessionID)
	if err != nil {
		logger.Error("history load failed", "error", err)
		b.writeFrame(conn, errorFrame(internalErrorMessage))
		return true
	}

	b.writeFrame(conn, loadingFrame("", genericLoadingMessage))

	var lastNode engine.NodeID
	result, err := b.engine.ExecuteStream(ctx, engine.Request{
		SessionID:    req.SessionID,
		Instruction:  req.Question,
		Mode:         engine.ParseMode(req.Mode),
		OptionalArgs: req.OptionalArgs,
		History:      history,
	}, func(ev engine.Event) {
		switch ev.Type {
		case engine.EventNode:
			// The merge node surfaces only as the answer marker.
			if ev.Node.Internal() || ev.Node == engine.NodeMerge || ev.Node == lastNode {
				return
			}
			lastNode = ev.Node
			b.writeFrame(conn, loadingFrame(string(ev.Node), statusMessage(ev.Node)))
		case engine.EventAnswerStart:
			b.writeFrame(conn, answerFrame())
		case engine.EventFragment:
			b.writeText(conn, ev.Text)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			// Client already gone; no further frames for this invocation.
			return true
		}
		logger.Error("invocation failed", "error", err)
		b.writeFrame(conn, errorFrame(internalErrorMessage))
		return true
	}

	if !result.Cached {
		userMsg := session.Message{Role: session.RoleUser, Content: req.Question, CreatedAt: time.Now()}
		assistantMsg := session.Message{Role: session.RoleAssistant, Content: result.Answer, CreatedAt: time.Now()}
		if err := b.store.AppendExchange(ctx, req.SessionID, userMsg, assistantMsg); err != nil {
			logger.Error("history append failed", "error", err)
		}
	}

	b.writeFrame(conn, endFrame(completedMessage))
	return false
}

func (b *Bridge) writeFrame(conn *websocket.Conn, f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(b.config.writeTimeout()))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			b.logger.Debug("frame write failed", "error", err)
		}
		return
	}
	if b.metrics != nil {
		b.metrics.RecordStreamFrame(f.Mode)
	}
}

// writeText sends a raw answer fragment, outside the frame envelope.
func (b *Bridge) writeText(conn *websocket.Conn, text string) {
	conn.SetWriteDeadline(time.Now().Add(b.config.writeTimeout()))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(text))
}
