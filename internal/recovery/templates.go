package recovery

import "github.com/waymarklabs/waymark/internal/db"

// planEntry is one row of a workflow task template. The template is the single
// source of truth for subjects, ordering, and completion rules; status
// derivation only reads it, so adding an entry cannot drift from the logic.
type planEntry struct {
	subject     string
	description string
	activeForm  string

	// gate is the marker number whose success action completes this entry.
	// Zero means no marker exists; the entry completes only when the whole
	// workflow does.
	gate int

	// phase is the workflow phase that maps to this entry in phased
	// workflows. Empty for entries with no phase of their own.
	phase db.Phase
}

// gatedTemplate describes manually gated workflows. The research phase spans
// gates 1 and 2, so status comes from gate completion markers in the action
// log rather than from the phase field.
var gatedTemplate = []planEntry{
	{
		subject:     "Gate 1 Review",
		description: "Review the issue and confirm the research direction",
		activeForm:  "Reviewing issue",
		gate:        1,
	},
	{
		subject:     "Gate 2 Plan Review",
		description: "Review and approve the implementation plan",
		activeForm:  "Reviewing plan",
		gate:        2,
	},
	{
		subject:     "Gate 3 Implement",
		description: "Implement the approved plan",
		activeForm:  "Implementing",
		gate:        3,
	},
	{
		subject:     "Gate 4 Pre-merge Review",
		description: "Review the implementation before merge",
		activeForm:  "Reviewing before merge",
		gate:        4,
	},
	{
		subject:     "Finalize",
		description: "Merge, close out, and clean up the workflow",
		activeForm:  "Finalizing",
	},
}

// phasedTemplate describes fully automated workflows. Setup has no phase of
// its own; it is complete as soon as the workflow row exists.
var phasedTemplate = []planEntry{
	{
		subject:     "Setup",
		description: "Create the workflow, branch, and worktree",
		activeForm:  "Setting up",
	},
	{
		subject:     "Research",
		description: "Investigate the issue and draft a plan",
		activeForm:  "Researching",
		phase:       db.PhaseResearch,
	},
	{
		subject:     "Implement",
		description: "Execute the plan",
		activeForm:  "Implementing",
		phase:       db.PhaseImplement,
	},
	{
		subject:     "Review",
		description: "Run automated review on the changes",
		activeForm:  "Reviewing",
		phase:       db.PhaseReview,
	},
	{
		subject:     "Finalize",
		description: "Merge, close out, and clean up the workflow",
		activeForm:  "Finalizing",
		phase:       db.PhaseFinalize,
	},
}

// phaseIndex maps a workflow phase to its phased-template entry. Phases the
// template does not know land on the Research entry, the earliest phase with
// real work.
func phaseIndex(phase db.Phase) int {
	for i, entry := range phasedTemplate {
		if entry.phase != "" && entry.phase == phase {
			return i
		}
	}
	return 1
}
