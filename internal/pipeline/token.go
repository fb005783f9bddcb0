// Package pipeline implements the staged orchestrator: ordered LLM stages
// run strictly sequentially with a separation delay, passing a structured
// token whose fields accumulate from labeled sections of each stage output.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/cogitohq/cogito/pkg/types"
)

// Labeled-section patterns, one capture per line list. Stage prompts ask
// the model to emit these markers; absent sections simply add nothing.
var (
	entitiesRe      = regexp.MustCompile(`(?im)^\s*ENTITIES:\s*(.+)$`)
	themesRe        = regexp.MustCompile(`(?im)^\s*THEMES:\s*(.+)$`)
	relationshipsRe = regexp.MustCompile(`(?im)^\s*RELATIONSHIPS:\s*(.+)$`)
	conclusionsRe   = regexp.MustCompile(`(?im)^\s*CONCLUSIONS:\s*(.+)$`)
	nextFocusRe     = regexp.MustCompile(`(?im)^\s*NEXT FOCUS:\s*(.+)$`)
)

// phaseForStage maps a stage index within a run of n stages to its phase:
// first third preprocessing, middle processing, final third reasoning.
func phaseForStage(index, total int) types.PipelinePhase {
	if total <= 1 {
		return types.PhaseReasoning
	}
	switch {
	case index*3 < total:
		return types.PhasePreprocessing
	case index*3 < total*2:
		return types.PhaseProcessing
	default:
		return types.PhaseReasoning
	}
}

// accumulate folds one stage's output into the token. Lists only grow.
func accumulate(token *types.InterStageToken, stageIndex, totalStages int, output string) {
	token.CompletedStages = append(token.CompletedStages, stageIndex)
	token.Phase = phaseForStage(stageIndex, totalStages)

	token.Entities = appendParsed(token.Entities, entitiesRe, output)
	token.Themes = appendParsed(token.Themes, themesRe, output)
	token.Relationships = appendParsed(token.Relationships, relationshipsRe, output)
	token.Conclusions = appendParsed(token.Conclusions, conclusionsRe, output)

	if m := nextFocusRe.FindStringSubmatch(output); m != nil {
		token.NextFocus = strings.TrimSpace(m[1])
	}
}

// appendParsed extracts comma-separated values from every matching labeled
// line, deduplicating case-insensitively against what is already present.
func appendParsed(existing []string, re *regexp.Regexp, output string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[strings.ToLower(v)] = struct{}{}
	}

	for _, match := range re.FindAllStringSubmatch(output, -1) {
		for _, part := range strings.Split(match[1], ",") {
			v := strings.TrimSpace(part)
			if v == "" {
				continue
			}
			if _, dup := seen[strings.ToLower(v)]; dup {
				continue
			}
			seen[strings.ToLower(v)] = struct{}{}
			existing = append(existing, v)
		}
	}
	return existing
}

// renderToken formats the token state for inclusion in the next prompt.
func renderToken(token *types.InterStageToken) string {
	var sb strings.Builder
	sb.WriteString("Current analysis state:\n")
	sb.WriteString("  phase: " + string(token.Phase) + "\n")
	writeList(&sb, "entities", token.Entities)
	writeList(&sb, "themes", token.Themes)
	writeList(&sb, "relationships", token.Relationships)
	writeList(&sb, "conclusions", token.Conclusions)
	if token.NextFocus != "" {
		sb.WriteString("  next focus: " + token.NextFocus + "\n")
	}
	return sb.String()
}

func writeList(sb *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	sb.WriteString("  " + label + ": " + strings.Join(values, ", ") + "\n")
}
