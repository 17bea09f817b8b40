package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/supervisor"
	"golang.org/x/sync/errgroup"
)

// nodeFunc is one unit of graph work: a partial state update, or an
// error that fails the invocation. Handler unavailability never reaches
// the error return; it degrades inside the node.
type nodeFunc func(ctx context.Context, st *State) (NodeResult, error)

// capability binds a graph node to the handler process behind it and
// the prompt that turns raw handler output into an answer.
type capability struct {
	node      NodeID
	handler   string
	operation string
	prompt    func(instruction, results string) string
}

var capabilities = map[NodeID]capability{
	NodeYouTubeSearch: {
		node: NodeYouTubeSearch, handler: "youtube_search", operation: "search",
		prompt: youtubeSearchPrompt,
	},
	NodeKOCWSearch: {
		node: NodeKOCWSearch, handler: "kocw_search", operation: "search",
		prompt: kocwSearchPrompt,
	},
	NodeWebSearch: {
		node: NodeWebSearch, handler: "web_search", operation: "search",
		prompt: webSearchPrompt,
	},
	NodeDepartmentSearch: {
		node: NodeDepartmentSearch, handler: "department_search", operation: "retrieve",
		prompt: departmentSearchPrompt,
	},
}

// fanOutNodes is the fixed capability subset SEARCH_ALL runs before the
// merge step. Order is the append order when running sequentially, and
// the result order regardless of completion order when concurrent.
var fanOutNodes = []NodeID{NodeYouTubeSearch, NodeKOCWSearch, NodeWebSearch}

func (inv *invocation) nodeFor(id NodeID) (nodeFunc, error) {
	switch id {
	case NodeInit:
		return inv.initNode, nil
	case NodeRoute:
		return inv.routeNode, nil
	case NodeYouTubeSearch, NodeKOCWSearch, NodeWebSearch, NodeDepartmentSearch:
		return inv.capabilityNode(capabilities[id]), nil
	case NodeAgent:
		return inv.agentNode, nil
	case NodeFastPath:
		return inv.fastPathNode, nil
	case NodeFanOut:
		return inv.fanOutNode, nil
	case NodeMerge:
		return inv.mergeNode, nil
	}
	return nil, &InternalError{Node: id, Err: fmt.Errorf("no implementation for node %s", id)}
}

// initNode seeds the conversation. The system instruction is emitted
// only when the conversation is new; an existing history already had it
// on its first turn and is never rewritten.
func (inv *invocation) initNode(_ context.Context, st *State) (NodeResult, error) {
	user := userMessage(st.Instruction)

	if len(st.Messages) == 0 {
		return messageDelta("", systemMessage(systemPrompt), user), nil
	}
	return messageDelta("", user), nil
}

// routeNode picks the entry node for the declared mode.
func (inv *invocation) routeNode(_ context.Context, st *State) (NodeResult, error) {
	return NodeResult{Kind: ResultRouting, Next: Route(st.Mode)}, nil
}

// capabilityNode invokes one handler process and turns its results into
// an assistant message via the completer. A handler it cannot reach
// degrades to a short explanatory message instead of failing.
func (inv *invocation) capabilityNode(c capability) nodeFunc {
	return func(ctx context.Context, st *State) (NodeResult, error) {
		department := st.OptionalArgs["department"]
		if c.node == NodeDepartmentSearch && department == "" {
			msg := systemMessage(departmentMissingMessage)
			return messageDelta(msg.Content, msg), nil
		}

		raw, err := inv.e.invoker.Invoke(ctx, c.handler, c.operation, encodeSearchInput(st.Instruction, department))
		if err != nil {
			if degradable(ctx, err) {
				inv.e.degrade(ctx, c.node, err)
				return messageDelta("", assistantMessage(degradedHandlerMessage(c.handler))), nil
			}
			return NodeResult{}, &InternalError{Node: c.node, Err: err}
		}

		prompt := userMessage(c.prompt(st.Instruction, decodeSearchOutput(raw)))
		answer, err := inv.e.completer.Complete(ctx, []session.Message{prompt})
		if err != nil {
			if degradable(ctx, err) {
				inv.e.degrade(ctx, c.node, err)
				return messageDelta("", assistantMessage(degradedHandlerMessage(c.handler))), nil
			}
			return NodeResult{}, &InternalError{Node: c.node, Err: err}
		}

		return messageDelta(answer, prompt, assistantMessage(answer)), nil
	}
}

// agentNode is the common conversational path: the completer over the
// full history, no handler lookup.
func (inv *invocation) agentNode(ctx context.Context, st *State) (NodeResult, error) {
	answer, err := inv.e.completer.Complete(ctx, st.Messages)
	if err != nil {
		return NodeResult{}, &InternalError{Node: NodeAgent, Err: err}
	}
	return messageDelta(answer, assistantMessage(answer)), nil
}

// fastPathNode answers from the instruction alone. It is terminal, so
// it streams when the invocation has a streaming observer.
func (inv *invocation) fastPathNode(ctx context.Context, st *State) (NodeResult, error) {
	answer, err := inv.complete(ctx, []session.Message{userMessage(st.Instruction)})
	if err != nil {
		return NodeResult{}, &InternalError{Node: NodeFastPath, Err: err}
	}
	return NodeResult{Kind: ResultAnswer, Answer: answer}, nil
}

// fanOutNode runs the fixed capability subset, sequentially by default.
// With the concurrent opt-in, every sub-node completes (or is
// cancelled) before the merge step sees any of it, and deltas land in
// declaration order regardless of completion order.
func (inv *invocation) fanOutNode(ctx context.Context, st *State) (NodeResult, error) {
	if !inv.fanOutConcurrent(st) {
		var combined NodeResult
		combined.Kind = ResultMessageDelta
		for _, id := range fanOutNodes {
			res, err := inv.capabilityNode(capabilities[id])(ctx, st)
			if err != nil {
				return NodeResult{}, err
			}
			combined.Messages = append(combined.Messages, res.Messages...)
		}
		return combined, nil
	}

	results := make([]NodeResult, len(fanOutNodes))
	if inv.e.config.FanOutCancelOnFailure {
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range fanOutNodes {
			g.Go(func() error {
				res, err := inv.capabilityNode(capabilities[id])(gctx, st)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return NodeResult{}, err
		}
	} else {
		// Best-effort: a hard failure in one sibling never cancels the
		// others; everything joins at the barrier and the first error
		// is reported after.
		errs := make([]error, len(fanOutNodes))
		var wg sync.WaitGroup
		for i, id := range fanOutNodes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := inv.capabilityNode(capabilities[id])(ctx, st)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = res
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return NodeResult{}, err
			}
		}
	}

	var combined NodeResult
	combined.Kind = ResultMessageDelta
	for _, res := range results {
		combined.Messages = append(combined.Messages, res.Messages...)
	}
	return combined, nil
}

// fanOutConcurrent reports whether this invocation runs the fan-out
// subset concurrently: process-wide config or the request's
// "concurrent" optional argument.
func (inv *invocation) fanOutConcurrent(st *State) bool {
	if inv.e.config.FanOutConcurrent {
		return true
	}
	return strings.EqualFold(st.OptionalArgs["concurrent"], "true")
}

// mergeNode is the sole response formatter: it consumes the full
// history plus the original instruction and produces the final answer.
func (inv *invocation) mergeNode(ctx context.Context, st *State) (NodeResult, error) {
	prompt := userMessage(mergePrompt(st.Instruction))
	conversation := append(append([]session.Message{}, st.Messages...), prompt)

	answer, err := inv.complete(ctx, conversation)
	if err != nil {
		return NodeResult{}, &InternalError{Node: NodeMerge, Err: err}
	}

	return messageDelta(answer, prompt, assistantMessage(answer)), nil
}

// complete runs the completer, streaming fragments to the observer when
// this invocation has one. Used only by terminal answer-producing nodes.
func (inv *invocation) complete(ctx context.Context, msgs []session.Message) (string, error) {
	if inv.emit == nil {
		return inv.e.completer.Complete(ctx, msgs)
	}

	inv.emit(Event{Type: EventAnswerStart})
	return inv.e.completer.Stream(ctx, msgs, func(fragment string) error {
		inv.emit(Event{Type: EventFragment, Text: fragment})
		return nil
	})
}

// degradable separates expected handler trouble from defects. A
// cancelled invocation is never degradable: cancellation must stop the
// graph, not produce apologetic partial answers.
func degradable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, supervisor.ErrHandlerUnavailable) ||
		errors.Is(err, supervisor.ErrHandlerTimeout)
}
