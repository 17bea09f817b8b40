package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/supervisor"
)

// Handler registry API. Descriptors are registered once and immutable
// afterwards; lifecycle operations go through the supervisor so status
// transitions stay serialized per handler.

type handlerStatusItem struct {
	Descriptor supervisor.Descriptor `json:"descriptor"`
	Record     *supervisor.Record    `json:"record,omitempty"`
}

func (s *Server) handleListHandlers(w http.ResponseWriter, _ *http.Request) {
	records := make(map[string]supervisor.Record)
	for _, rec := range s.supervisor.Records() {
		records[rec.Name] = rec
	}

	items := make([]handlerStatusItem, 0)
	for _, d := range s.supervisor.Registry().List() {
		item := handlerStatusItem{Descriptor: d}
		if rec, ok := records[d.Name]; ok {
			item.Record = &rec
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, "핸들러 목록입니다.", items)
}

func (s *Server) handleDescribeHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d, err := s.supervisor.Registry().Describe(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "등록되지 않은 핸들러입니다.")
		return
	}

	item := handlerStatusItem{Descriptor: d}
	for _, rec := range s.supervisor.Records() {
		if rec.Name == name {
			item.Record = &rec
			break
		}
	}
	writeJSON(w, http.StatusOK, "핸들러 정보입니다.", item)
}

func (s *Server) handleRegisterHandler(w http.ResponseWriter, r *http.Request) {
	var d supervisor.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
		return
	}

	if err := s.supervisor.Registry().Register(d); err != nil {
		var conflict *supervisor.PortConflictError
		if errors.As(err, &conflict) {
			writeError(w, http.StatusConflict, "이미 사용 중인 포트입니다.")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	correlation.Logger(r.Context(), s.logger).Info("handler registered", "handler", d.Name, "port", d.Port)
	writeJSON(w, http.StatusCreated, "핸들러가 등록되었습니다.", d)
}

func (s *Server) handleRunHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	class, err := s.supervisor.Start(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "등록되지 않은 핸들러입니다.")
		return
	}
	writeJSON(w, http.StatusOK, "핸들러 실행 결과입니다.", map[string]string{
		"name":           name,
		"classification": string(class),
	})
}

func (s *Server) handleStopHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.supervisor.Stop(r.Context(), name); err != nil {
		if errors.Is(err, supervisor.ErrHandlerNotFound) {
			writeError(w, http.StatusNotFound, "등록되지 않은 핸들러입니다.")
			return
		}
		writeError(w, http.StatusInternalServerError, "핸들러를 중지하지 못했습니다.")
		return
	}
	writeJSON(w, http.StatusOK, "핸들러가 중지되었습니다.", map[string]string{"name": name})
}

func (s *Server) handleHandlerHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	class, err := s.supervisor.Health(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "등록되지 않은 핸들러입니다.")
		return
	}
	writeJSON(w, http.StatusOK, "핸들러 상태입니다.", map[string]string{
		"name":           name,
		"classification": string(class),
	})
}
