package engine

import "strings"

// Mode is the client-declared capability selector. The set is closed;
// anything outside it routes to the common conversational node.
type Mode string

const (
	ModeYouTubeSearch    Mode = "YOUTUBE_SEARCH"
	ModeKOCWSearch       Mode = "KOCW_SEARCH"
	ModeWebSearch        Mode = "WEB_SEARCH"
	ModeDepartmentSearch Mode = "DEPARTMENT_SEARCH"
	ModeFastForward      Mode = "FAST_FORWARD"
	ModeSearchAll        Mode = "SEARCH_ALL"
	ModeCommon           Mode = "COMMON"
)

// Modes lists every recognized mode.
func Modes() []Mode {
	return []Mode{
		ModeYouTubeSearch,
		ModeKOCWSearch,
		ModeWebSearch,
		ModeDepartmentSearch,
		ModeFastForward,
		ModeSearchAll,
		ModeCommon,
	}
}

// ParseMode normalizes raw client input to a recognized mode. Unknown,
// empty or null input becomes ModeCommon; the function never fails.
func ParseMode(raw string) Mode {
	m := Mode(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case ModeYouTubeSearch, ModeKOCWSearch, ModeWebSearch,
		ModeDepartmentSearch, ModeFastForward, ModeSearchAll, ModeCommon:
		return m
	}
	return ModeCommon
}

// Route maps a mode to its entry node. Total and pure: every mode value
// maps to exactly one node, with ModeCommon as the default for anything
// ParseMode did not recognize.
func Route(m Mode) NodeID {
	switch m {
	case ModeYouTubeSearch:
		return NodeYouTubeSearch
	case ModeKOCWSearch:
		return NodeKOCWSearch
	case ModeWebSearch:
		return NodeWebSearch
	case ModeDepartmentSearch:
		return NodeDepartmentSearch
	case ModeFastForward:
		return NodeFastPath
	case ModeSearchAll:
		return NodeFanOut
	default:
		return NodeAgent
	}
}
