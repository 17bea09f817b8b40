package engine

import (
	"context"
	"encoding/json"

	"github.com/majorfree/agentd/pkg/session"
)

// Completer is the LLM behind the conversational and merge nodes. The
// vendor call lives outside this package; tests script it.
type Completer interface {
	// Complete produces one reply for the conversation.
	Complete(ctx context.Context, messages []session.Message) (string, error)

	// Stream produces the reply incrementally, calling emit for each
	// text fragment in order, and returns the full reply. emit returning
	// an error aborts the stream.
	Stream(ctx context.Context, messages []session.Message, emit func(fragment string) error) (string, error)
}

// HandlerInvoker calls out-of-process capability handlers. Transport
// failures surface as the supervisor package's unavailable/timeout
// errors, which nodes degrade on.
type HandlerInvoker interface {
	Invoke(ctx context.Context, handler, operation string, input json.RawMessage) (json.RawMessage, error)
}

// searchInput is the request body capability handlers accept.
type searchInput struct {
	Instruction string `json:"instruction"`
	Department  string `json:"department,omitempty"`
}

// searchOutput is the result body capability handlers return.
type searchOutput struct {
	Results string `json:"results"`
}

func encodeSearchInput(instruction, department string) json.RawMessage {
	raw, _ := json.Marshal(searchInput{Instruction: instruction, Department: department})
	return raw
}

func decodeSearchOutput(raw json.RawMessage) string {
	var out searchOutput
	if err := json.Unmarshal(raw, &out); err != nil || out.Results == "" {
		// Handlers that return bare text instead of the envelope still
		// produce usable context.
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil {
			return plain
		}
		return string(raw)
	}
	return out.Results
}
