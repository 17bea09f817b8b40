package stream

import "github.com/majorfree/agentd/pkg/engine"

// Per-node status text shown to the client while a node runs. Nodes
// missing from the map fall back to the generic message; internal
// bookkeeping nodes never reach this lookup.
var nodeMessages = map[engine.NodeID]string{
	engine.NodeAgent:            "답변을 위해 챗봇이 필요한 작업을 선택하고 있어요.",
	engine.NodeFastPath:         "빠른 답변을 위해 작업을 진행하고 있어요.",
	engine.NodeYouTubeSearch:    "답변을 위해 '유튜브 검색'을 진행하고 있어요.",
	engine.NodeKOCWSearch:       "답변을 위해 'KOCW 강의 검색'을 진행하고 있어요.",
	engine.NodeWebSearch:        "답변을 위해 '웹 검색'을 진행하고 있어요.",
	engine.NodeDepartmentSearch: "답변을 위해 '학과 정보 검색'을 진행하고 있어요.",
}

const (
	genericLoadingMessage = "답변을 위해 작업을 진행하고 있어요."
	completedMessage      = "답변이 완료되었어요."
	internalErrorMessage  = "답변 생성 중 문제가 발생했어요. 잠시 후 다시 시도해주세요."
)

func statusMessage(node engine.NodeID) string {
	if msg, ok := nodeMessages[node]; ok {
		return msg
	}
	return genericLoadingMessage
}
