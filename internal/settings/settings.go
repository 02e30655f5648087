// Package settings implements the Settings Resolver: merges per-agent,
// global, and daemon-default settings documents into a single
// ResolvedPipelineSettings snapshot.
package settings

import "github.com/agentmemory/memoryd/internal/memory"

// semanticLevelStages maps a semanticLevel to the enhanceable stages it
// turns on, per spec §4.10.
var semanticLevelStages = map[memory.SemanticLevel]map[string]bool{
	memory.SemanticOff:      {},
	memory.SemanticBasic:    {"extract": true},
	memory.SemanticEnhanced: {"extract": true, "classify": true, "entityUpdate": true},
	memory.SemanticFull: {
		"extract": true, "classify": true, "entityUpdate": true,
		"graphLink": true, "layerPromote": true,
	},
}

// DaemonDefaults carries the env-level fallback used when neither an agent
// nor a global settings document specifies a stage or an LLM config.
type DaemonDefaults struct {
	SemanticLevel memory.SemanticLevel
	LLM           memory.LLMProviderConfig
}

// Resolve merges agentDoc, globalDoc, and daemon defaults into a
// ResolvedPipelineSettings, honoring the precedence order from spec §4.10:
// agent per-stage override > agent semanticLevel expansion > global
// per-stage override > global semanticLevel expansion > daemon defaults.
func Resolve(agentDoc, globalDoc *memory.Settings, daemon DaemonDefaults) memory.ResolvedPipelineSettings {
	resolved := memory.ResolvedPipelineSettings{
		Stages: map[string]memory.StageSettings{},
		LLM:    daemon.LLM,
	}

	for _, stage := range memory.EnhanceableStages {
		resolved.Stages[stage] = memory.StageSettings{
			UseLLM: semanticLevelStages[daemon.SemanticLevel][stage],
		}
	}

	if globalDoc != nil {
		applyLevel(&resolved, globalDoc.SemanticLevel)
		applyOverrides(&resolved, globalDoc.StageUseLLM)
		if globalDoc.LLM != (memory.LLMProviderConfig{}) {
			resolved.LLM = globalDoc.LLM
		}
	}

	if agentDoc != nil {
		applyLevel(&resolved, agentDoc.SemanticLevel)
		applyOverrides(&resolved, agentDoc.StageUseLLM)
		if agentDoc.LLM != (memory.LLMProviderConfig{}) {
			resolved.LLM = agentDoc.LLM
		}
	}

	return resolved
}

func applyLevel(resolved *memory.ResolvedPipelineSettings, level memory.SemanticLevel) {
	if level == "" {
		return
	}
	enabled := semanticLevelStages[level]
	for _, stage := range memory.EnhanceableStages {
		resolved.Stages[stage] = memory.StageSettings{UseLLM: enabled[stage]}
	}
}

func applyOverrides(resolved *memory.ResolvedPipelineSettings, overrides map[string]bool) {
	for stage, use := range overrides {
		resolved.Stages[stage] = memory.StageSettings{UseLLM: use}
	}
}
