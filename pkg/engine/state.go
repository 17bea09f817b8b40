package engine

import (
	"time"

	"github.com/majorfree/agentd/pkg/session"
)

// NodeID identifies a workflow node. Dispatch is by enumerated
// identifier, not by string lookup, so an undeclared transition is a
// programming error the graph can reject.
type NodeID string

const (
	NodeInit             NodeID = "init"
	NodeRoute            NodeID = "route"
	NodeYouTubeSearch    NodeID = "youtube_search"
	NodeKOCWSearch       NodeID = "kocw_search"
	NodeWebSearch        NodeID = "web_search"
	NodeDepartmentSearch NodeID = "department_search"
	NodeAgent            NodeID = "agent_question"
	NodeFastPath         NodeID = "fast_forward_question"
	NodeFanOut           NodeID = "search_all"
	NodeMerge            NodeID = "merge_messages"
	NodeEnd              NodeID = "end"
)

// Internal reports whether the node is bookkeeping that clients should
// never see as a progress update.
func (n NodeID) Internal() bool {
	return n == NodeInit || n == NodeRoute || n == NodeEnd
}

// State is the per-invocation workflow record. Exactly one State exists
// per invocation and only the running engine touches it.
type State struct {
	Instruction  string
	Messages     []session.Message
	Mode         Mode
	OptionalArgs map[string]string
	Answer       string
	Current      NodeID
	Step         int
}

// ResultKind tags a NodeResult variant.
type ResultKind int

const (
	// ResultMessageDelta appends messages; the answer may be replaced
	// alongside when the node produced one.
	ResultMessageDelta ResultKind = iota
	// ResultAnswer replaces the answer without touching the history.
	ResultAnswer
	// ResultRouting carries the next node chosen by a branching node.
	ResultRouting
)

// NodeResult is a node's partial state update. Message deltas are
// append-only; the answer field is replaced wholesale.
type NodeResult struct {
	Kind     ResultKind
	Messages []session.Message
	Answer   string
	Next     NodeID
}

// apply folds the result into the state. Appends preserve the order the
// node produced.
func (r NodeResult) apply(st *State) {
	switch r.Kind {
	case ResultMessageDelta:
		st.Messages = append(st.Messages, r.Messages...)
		if r.Answer != "" {
			st.Answer = r.Answer
		}
	case ResultAnswer:
		st.Answer = r.Answer
	case ResultRouting:
		// Routing mutates nothing; the engine follows r.Next.
	}
}

func messageDelta(answer string, msgs ...session.Message) NodeResult {
	return NodeResult{Kind: ResultMessageDelta, Messages: msgs, Answer: answer}
}

func assistantMessage(content string) session.Message {
	return session.Message{Role: session.RoleAssistant, Content: content, CreatedAt: time.Now()}
}

func userMessage(content string) session.Message {
	return session.Message{Role: session.RoleUser, Content: content, CreatedAt: time.Now()}
}

func systemMessage(content string) session.Message {
	return session.Message{Role: session.RoleSystem, Content: content, CreatedAt: time.Now()}
}
