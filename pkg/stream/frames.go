package stream

// Frame is the envelope for every non-text message the bridge sends.
// Final answer fragments go over the wire raw, outside the envelope.
type Frame struct {
	Mode     string    `json:"mode"`
	Metadata *Metadata `json:"metadata"`
}

// Metadata carries the human-readable payload of a frame.
type Metadata struct {
	NodeName string `json:"node_name,omitempty"`
	Message  string `json:"message"`
}

const (
	FrameLoading = "loading"
	FrameAnswer  = "answer"
	FrameEnd     = "end"
	FrameError   = "error"
)

func loadingFrame(node, message string) Frame {
	return Frame{Mode: FrameLoading, Metadata: &Metadata{NodeName: node, Message: message}}
}

// answerFrame marks the start of final output. Metadata is null by
// contract; clients switch to reading raw text after this frame.
func answerFrame() Frame {
	return Frame{Mode: FrameAnswer, Metadata: nil}
}

func endFrame(message string) Frame {
	return Frame{Mode: FrameEnd, Metadata: &Metadata{Message: message}}
}

func errorFrame(message string) Frame {
	return Frame{Mode: FrameError, Metadata: &Metadata{Message: message}}
}
