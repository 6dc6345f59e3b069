package router

import "github.com/hrygo/opsintent/core"

// workflowOverrides maps (category, sub_intent) pairs that need a richer
// execution shape than their category default.
var workflowOverrides = map[core.IntentCategory]map[string]core.WorkflowType{
	core.CategoryIncident: {
		"system_unavailable": core.WorkflowMagentic,
		"system_down":        core.WorkflowMagentic,
	},
	core.CategoryChange: {
		"release_deployment": core.WorkflowMagentic,
	},
}

var workflowDefaults = map[core.IntentCategory]core.WorkflowType{
	core.CategoryIncident: core.WorkflowSequential,
	core.CategoryChange:   core.WorkflowSequential,
	core.CategoryRequest:  core.WorkflowSimple,
	core.CategoryQuery:    core.WorkflowSimple,
	core.CategoryUnknown:  core.WorkflowSimple,
}

// WorkflowFor resolves the workflow hint for a classified intent.
func WorkflowFor(category core.IntentCategory, subIntent string) core.WorkflowType {
	if overrides, ok := workflowOverrides[category]; ok {
		if wf, ok := overrides[subIntent]; ok {
			return wf
		}
	}
	if wf, ok := workflowDefaults[category]; ok {
		return wf
	}
	return core.WorkflowSimple
}
