package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/session"
)

const answerCreatedMessage = "답변이 생성되었습니다."

type chatRequest struct {
	SessionID    string            `json:"session_id"`
	Question     string            `json:"question"`
	Mode         string            `json:"mode"`
	OptionalArgs map[string]string `json:"optional_args"`
}

type queryRequest struct {
	Question         string            `json:"question"`
	Mode             string            `json:"mode"`
	OptionalArgs     map[string]string `json:"optional_args"`
	ExistingMessages []session.Message `json:"existing_messages"`
}

type answerItem struct {
	Answer string `json:"answer"`
}

// handleChat runs one stateful invocation: history in from the session
// store, the exchange appended back on success.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
		return
	}
	if req.SessionID == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "session_id와 question은 필수입니다.")
		return
	}

	ctx := r.Context()
	logger := correlation.Logger(ctx, s.logger).With("session_id", req.SessionID)

	history, err := s.store.History(ctx, req.SessionID)
	if err != nil {
		logger.Error("history load failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "대화 내역을 불러올 수 없습니다.")
		return
	}

	result, err := s.engine.Execute(ctx, engine.Request{
		SessionID:    req.SessionID,
		Instruction:  req.Question,
		Mode:         engine.ParseMode(req.Mode),
		OptionalArgs: req.OptionalArgs,
		History:      history,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if !result.Cached {
		user := session.Message{Role: session.RoleUser, Content: req.Question, CreatedAt: time.Now()}
		assistant := session.Message{Role: session.RoleAssistant, Content: result.Answer, CreatedAt: time.Now()}
		if err := s.store.AppendExchange(ctx, req.SessionID, user, assistant); err != nil {
			logger.Error("history append failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, answerCreatedMessage, answerItem{Answer: result.Answer})
}

// handleQuery runs one stateless invocation: no store read, no store
// write, history supplied by the caller if at all.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question은 필수입니다.")
		return
	}

	result, err := s.engine.Execute(r.Context(), engine.Request{
		Instruction:  req.Question,
		Mode:         engine.ParseMode(req.Mode),
		OptionalArgs: req.OptionalArgs,
		History:      req.ExistingMessages,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, answerCreatedMessage, answerItem{Answer: result.Answer})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	logger := correlation.Logger(r.Context(), s.logger)
	if errors.Is(err, engine.ErrInternal) {
		logger.Error("invocation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "답변 생성 중 문제가 발생했습니다.")
		return
	}
	logger.Error("invocation aborted", "error", err)
	writeError(w, http.StatusServiceUnavailable, "답변 생성이 중단되었습니다.")
}
