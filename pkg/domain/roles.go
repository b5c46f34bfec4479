package domain

import (
	"errors"
	"fmt"
)

// Role defines the sender of a conversation entry.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from one of the agency's agents.
	RoleAssistant Role = "assistant"
	// RoleTool indicates a tool result.
	RoleTool Role = "tool"
	// RoleSystem indicates a system-level message (e.g. a handoff notice).
	RoleSystem Role = "system"
	// RoleCompactionSummary indicates a summary replacing compacted entries.
	RoleCompactionSummary Role = "compaction_summary"
)

// Conversation entry content types.
const (
	ContentTypeText       = "text"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)

// RoleKind classifies an agent by the part it plays in a research session.
type RoleKind int

const (
	// RoleKindPassThrough is any agent whose output is shown but never kept.
	RoleKindPassThrough RoleKind = iota
	// RoleKindClarifier asks follow-up questions before research starts.
	RoleKindClarifier
	// RoleKindResearcher produces the final deliverable.
	RoleKindResearcher
)

func (k RoleKind) String() string {
	switch k {
	case RoleKindClarifier:
		return "clarifier"
	case RoleKindResearcher:
		return "researcher"
	default:
		return "pass-through"
	}
}

// Roles names the distinguished agents of an agency. Names are matched by
// exact string equality against the agent names reported in stream events.
type Roles struct {
	// Entry is the agent that receives every submission.
	Entry string `json:"entry" yaml:"entry"`
	// Clarifier is the agent that asks clarification questions. Empty means
	// the agency has no clarification step.
	Clarifier string `json:"clarifier,omitempty" yaml:"clarifier,omitempty"`
	// Researcher is the agent whose output is the final artifact.
	Researcher string `json:"researcher" yaml:"researcher"`
}

// Kind returns the role kind for the named agent.
func (r Roles) Kind(agent string) RoleKind {
	switch {
	case r.Clarifier != "" && agent == r.Clarifier:
		return RoleKindClarifier
	case r.Researcher != "" && agent == r.Researcher:
		return RoleKindResearcher
	case r.SingleAgent() && agent == r.Entry:
		return RoleKindResearcher
	default:
		return RoleKindPassThrough
	}
}

// SingleAgent reports whether the agency is the degenerate case where the
// entry agent is also the terminal researcher and nothing clarifies.
func (r Roles) SingleAgent() bool {
	return r.Clarifier == "" && (r.Researcher == "" || r.Researcher == r.Entry)
}

// Validate checks that the role configuration is usable.
func (r Roles) Validate() error {
	if r.Entry == "" {
		return errors.New("entry agent is required")
	}
	if r.Clarifier != "" && r.Clarifier == r.Researcher {
		return fmt.Errorf("agent %q cannot be both clarifier and researcher", r.Clarifier)
	}
	return nil
}
