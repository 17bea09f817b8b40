package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorfree/agentd/pkg/config"
	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/stream"
	"github.com/majorfree/agentd/pkg/supervisor"
)

type fixedCompleter struct {
	reply string
}

func (c *fixedCompleter) Complete(_ context.Context, _ []session.Message) (string, error) {
	return c.reply, nil
}

func (c *fixedCompleter) Stream(_ context.Context, _ []session.Message, emit func(string) error) (string, error) {
	if err := emit(c.reply); err != nil {
		return "", err
	}
	return c.reply, nil
}

type stubInvoker struct{}

func (stubInvoker) Invoke(_ context.Context, _, _ string, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"results":"ok"}`), nil
}

type mapHistory struct {
	mu       sync.Mutex
	messages map[string][]session.Message
}

func (h *mapHistory) Messages(_ context.Context, sessionID string) ([]session.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Message(nil), h.messages[sessionID]...), nil
}

func (h *mapHistory) Record(_ context.Context, sessionID string, msg session.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[sessionID] = append(h.messages[sessionID], msg)
	return nil
}

type fixture struct {
	handler http.Handler
	history *mapHistory
	sup     *supervisor.Supervisor
}

func newFixture(t *testing.T, reply string) fixture {
	t.Helper()

	history := &mapHistory{messages: make(map[string][]session.Message)}
	store := session.NewStore(nil, history, nil, nil)

	eng := engine.New(&fixedCompleter{reply: reply}, stubInvoker{}, engine.Config{
		InvocationTimeoutSeconds: 10,
	}, nil, nil)

	supCfg := supervisor.DefaultConfig()
	supCfg.StartupGraceSeconds = 0
	supCfg.HealthBackoffSeconds = 0
	sup := supervisor.New(supervisor.NewRegistry(), supCfg, nil, nil)

	bridge := stream.NewBridge(eng, store, stream.DefaultConfig(), nil, nil)
	srv := New(config.ServerConfig{Address: ":0"}, nil, nil, eng, store, sup, bridge)

	return fixture{handler: srv.Handler(), history: history, sup: sup}
}

type envelopeBody struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Item    json.RawMessage `json:"item"`
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelopeBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func TestChatEndpoint(t *testing.T) {
	fx := newFixture(t, "전공 필수 과목은 운영체제입니다.")

	rec, env := doJSON(t, fx.handler, http.MethodPost, "/api/v1/llm/chat", map[string]any{
		"session_id": "s-1",
		"question":   "전공 필수 뭐 들어야 해?",
		"mode":       "COMMON",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "답변이 생성되었습니다.", env.Message)

	var item struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(env.Item, &item))
	assert.Equal(t, "전공 필수 과목은 운영체제입니다.", item.Answer)

	// The exchange is persisted for the next turn.
	msgs, err := fx.history.Messages(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
}

func TestChatEndpointValidation(t *testing.T) {
	fx := newFixture(t, "네")

	rec, _ := doJSON(t, fx.handler, http.MethodPost, "/api/v1/llm/chat", map[string]any{
		"question": "session_id 없는 요청",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/llm/chat", bytes.NewBufferString("{broken"))
	rec2 := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestQueryEndpointIsStateless(t *testing.T) {
	fx := newFixture(t, "스프링 강의를 추천해요.")

	rec, env := doJSON(t, fx.handler, http.MethodPost, "/api/v1/llm/query", map[string]any{
		"question": "자바 강의 추천",
		"mode":     "FAST_FORWARD",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "답변이 생성되었습니다.", env.Message)

	// Stateless: nothing lands in the store.
	for id, msgs := range fx.history.messages {
		t.Errorf("unexpected persisted session %s with %d messages", id, len(msgs))
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	fx := newFixture(t, "네")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(supervisor.CorrelationHeader, "req-abc")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get(supervisor.CorrelationHeader))

	// Without one supplied, the server mints an id.
	rec2 := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec2.Header().Get(supervisor.CorrelationHeader))
}

func TestHandlerRegistryEndpoints(t *testing.T) {
	fx := newFixture(t, "네")

	rec, _ := doJSON(t, fx.handler, http.MethodPost, "/api/v1/handlers", supervisor.Descriptor{
		Name:      "youtube_search",
		Transport: "http",
		Command:   "true",
		Port:      18081,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same port, different name conflicts.
	rec, env := doJSON(t, fx.handler, http.MethodPost, "/api/v1/handlers", supervisor.Descriptor{
		Name:      "web_search",
		Transport: "http",
		Command:   "true",
		Port:      18081,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "이미 사용 중인 포트입니다.", env.Message)

	rec, env = doJSON(t, fx.handler, http.MethodGet, "/api/v1/handlers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []handlerStatusItem
	require.NoError(t, json.Unmarshal(env.Item, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "youtube_search", items[0].Descriptor.Name)

	rec, env = doJSON(t, fx.handler, http.MethodGet, "/api/v1/handlers/youtube_search", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item handlerStatusItem
	require.NoError(t, json.Unmarshal(env.Item, &item))
	assert.Equal(t, 18081, item.Descriptor.Port)

	rec, _ = doJSON(t, fx.handler, http.MethodGet, "/api/v1/handlers/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, fx.handler, http.MethodPost, "/api/v1/handlers/nope/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, fx.handler, http.MethodPost, "/api/v1/handlers/nope/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, "네")

	rec, env := doJSON(t, fx.handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", env.Message)
}
