package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/session"
)

// cannedCompleter answers every completion with a fixed reply, split
// into two fragments when streamed.
type cannedCompleter struct {
	reply string
}

func (c *cannedCompleter) Complete(_ context.Context, _ []session.Message) (string, error) {
	return c.reply, nil
}

func (c *cannedCompleter) Stream(_ context.Context, _ []session.Message, emit func(string) error) (string, error) {
	runes := []rune(c.reply)
	half := len(runes) / 2
	for _, part := range []string{string(runes[:half]), string(runes[half:])} {
		if part == "" {
			continue
		}
		if err := emit(part); err != nil {
			return "", err
		}
	}
	return c.reply, nil
}

type noopInvoker struct{}

func (noopInvoker) Invoke(_ context.Context, _, _ string, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"results":"ok"}`), nil
}

// memHistory is an in-memory durable tier.
type memHistory struct {
	mu       sync.Mutex
	messages map[string][]session.Message
}

func newMemHistory() *memHistory {
	return &memHistory{messages: make(map[string][]session.Message)}
}

func (h *memHistory) Messages(_ context.Context, sessionID string) ([]session.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Message(nil), h.messages[sessionID]...), nil
}

func (h *memHistory) Record(_ context.Context, sessionID string, msg session.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[sessionID] = append(h.messages[sessionID], msg)
	return nil
}

func dialBridge(t *testing.T, history *memHistory, reply string) *websocket.Conn {
	t.Helper()
	return dialBridgeWith(t, history, &cannedCompleter{reply: reply})
}

func dialBridgeWith(t *testing.T, history *memHistory, completer engine.Completer) *websocket.Conn {
	t.Helper()

	eng := engine.New(completer, noopInvoker{}, engine.Config{
		InvocationTimeoutSeconds: 10,
	}, nil, nil)
	store := session.NewStore(nil, history, nil, nil)
	bridge := NewBridge(eng, store, DefaultConfig(), nil, nil)

	srv := httptest.NewServer(bridge)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// cycle reads one full request cycle off the connection: the envelope
// frames in order plus the raw fragments between answer and end.
type cycle struct {
	modes     []string
	loading   []Metadata
	fragments []string
}

func readCycle(t *testing.T, conn *websocket.Conn) cycle {
	t.Helper()

	var out cycle
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil || f.Mode == "" {
			out.modes = append(out.modes, "fragment")
			out.fragments = append(out.fragments, string(payload))
			continue
		}
		out.modes = append(out.modes, f.Mode)
		if f.Mode == FrameLoading && f.Metadata != nil {
			out.loading = append(out.loading, *f.Metadata)
		}
		if f.Mode == FrameEnd || f.Mode == FrameError {
			return out
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, req ChatRequest) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func TestBridge_FrameOrdering(t *testing.T) {
	conn := dialBridge(t, newMemHistory(), "수강신청은 매 학기 초에 진행됩니다.")

	send(t, conn, ChatRequest{SessionID: "s-1", Question: "수강신청 언제야?", Mode: "COMMON"})
	got := readCycle(t, conn)

	// loading... answer fragment... end, with exactly one answer marker.
	assert.Equal(t, 1, countMode(got.modes, FrameAnswer))
	assert.Equal(t, FrameEnd, got.modes[len(got.modes)-1])

	answerAt := indexOf(got.modes, FrameAnswer)
	for i, mode := range got.modes {
		switch {
		case i < answerAt:
			assert.Equal(t, FrameLoading, mode, "everything before the answer marker is loading")
		case i > answerAt && i < len(got.modes)-1:
			assert.Equal(t, "fragment", mode, "everything between answer and end is raw text")
		}
	}

	assert.Equal(t, "수강신청은 매 학기 초에 진행됩니다.", strings.Join(got.fragments, ""))
}

func TestBridge_LoadingFramesSkipInternalNodes(t *testing.T) {
	conn := dialBridge(t, newMemHistory(), "안내해 드릴게요.")

	send(t, conn, ChatRequest{SessionID: "s-2", Question: "학과 행사 알려줘", Mode: "COMMON"})
	got := readCycle(t, conn)

	require.NotEmpty(t, got.loading)
	assert.Empty(t, got.loading[0].NodeName, "first loading frame is the generic acknowledgement")
	for _, m := range got.loading {
		assert.NotContains(t, []string{"init", "route", "end"}, m.NodeName)
		assert.NotEqual(t, "merge_messages", m.NodeName, "merge surfaces only as the answer marker")
		assert.NotEmpty(t, m.Message)
	}
}

func TestBridge_MalformedInputKeepsConnectionOpen(t *testing.T) {
	conn := dialBridge(t, newMemHistory(), "네!")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	got := readCycle(t, conn)
	require.Equal(t, FrameError, got.modes[len(got.modes)-1])

	// Missing fields are rejected the same way.
	send(t, conn, ChatRequest{SessionID: "", Question: "질문"})
	got = readCycle(t, conn)
	require.Equal(t, FrameError, got.modes[len(got.modes)-1])

	// The connection still serves a valid request afterwards.
	send(t, conn, ChatRequest{SessionID: "s-3", Question: "안녕", Mode: "COMMON"})
	got = readCycle(t, conn)
	assert.Equal(t, FrameEnd, got.modes[len(got.modes)-1])
}

func TestBridge_PersistsExchange(t *testing.T) {
	history := newMemHistory()
	conn := dialBridge(t, history, "파이썬 강의를 추천해요.")

	send(t, conn, ChatRequest{SessionID: "s-4", Question: "파이썬 강의 추천해줘", Mode: "COMMON"})
	got := readCycle(t, conn)
	require.Equal(t, FrameEnd, got.modes[len(got.modes)-1])

	require.Eventually(t, func() bool {
		msgs, err := history.Messages(context.Background(), "s-4")
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 20*time.Millisecond)

	msgs, err := history.Messages(context.Background(), "s-4")
	require.NoError(t, err)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, "파이썬 강의 추천해줘", msgs[0].Content)
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "파이썬 강의를 추천해요.", msgs[1].Content)
}

func TestBridge_FastForwardCycle(t *testing.T) {
	conn := dialBridge(t, newMemHistory(), "바로 답변드려요.")

	send(t, conn, ChatRequest{SessionID: "s-5", Question: "빠른 질문", Mode: "FAST_FORWARD"})
	got := readCycle(t, conn)

	assert.Equal(t, FrameEnd, got.modes[len(got.modes)-1])
	assert.Equal(t, "바로 답변드려요.", strings.Join(got.fragments, ""))

	var nodes []string
	for _, m := range got.loading {
		if m.NodeName != "" {
			nodes = append(nodes, m.NodeName)
		}
	}
	assert.Equal(t, []string{"fast_forward_question"}, nodes)
}

func countMode(modes []string, mode string) int {
	n := 0
	for _, m := range modes {
		if m == mode {
			n++
		}
	}
	return n
}

func indexOf(modes []string, mode string) int {
	for i, m := range modes {
		if m == mode {
			return i
		}
	}
	return -1
}

// blockedCompleter parks inside the completion until its context is
// cancelled, standing in for a long-running model call.
type blockedCompleter struct {
	started   chan struct{}
	cancelled chan struct{}
	once      sync.Once
}

func newBlockedCompleter() *blockedCompleter {
	return &blockedCompleter{
		started:   make(chan struct{}, 1),
		cancelled: make(chan struct{}),
	}
}

func (c *blockedCompleter) Complete(ctx context.Context, _ []session.Message) (string, error) {
	select {
	case c.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	c.once.Do(func() { close(c.cancelled) })
	return "", ctx.Err()
}

func (c *blockedCompleter) Stream(ctx context.Context, msgs []session.Message, _ func(string) error) (string, error) {
	return c.Complete(ctx, msgs)
}

func TestBridge_DisconnectCancelsInvocation(t *testing.T) {
	history := newMemHistory()
	completer := newBlockedCompleter()
	conn := dialBridgeWith(t, history, completer)

	send(t, conn, ChatRequest{SessionID: "s-6", Question: "오래 걸리는 질문", Mode: "COMMON"})

	select {
	case <-completer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation never reached the completion")
	}

	// Client walks away mid-invocation.
	require.NoError(t, conn.Close())

	select {
	case <-completer.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect did not cancel the in-flight invocation")
	}

	// The abandoned invocation leaves no trace in the session.
	time.Sleep(100 * time.Millisecond)
	msgs, err := history.Messages(context.Background(), "s-6")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
