package memory

import (
	"github.com/cortexd/cortexd/internal/domain"
)

// findDuplicate locates an existing record sharing the uniqueness key for
// kinds that enforce one: (concept, domain) for semantic, (skill_name,
// domain) for procedural. Episodic records have no such key.
func findDuplicate(kind domain.Kind, content domain.Content, candidates []*domain.Record) *domain.Record {
	key, ok := uniquenessKey(kind, content)
	if !ok {
		return nil
	}
	for _, rec := range candidates {
		if k, ok := uniquenessKey(rec.Kind, rec.Content); ok && k == key {
			return rec
		}
	}
	return nil
}

func uniquenessKey(kind domain.Kind, content domain.Content) (string, bool) {
	switch kind {
	case domain.KindSemantic:
		concept, _ := content[domain.FieldConcept].(string)
		dom, _ := content[domain.FieldDomain].(string)
		return concept + "\x00" + dom, true
	case domain.KindProcedural:
		skill, _ := content[domain.FieldSkillName].(string)
		dom, _ := content[domain.FieldDomain].(string)
		return skill + "\x00" + dom, true
	default:
		return "", false
	}
}

// mergeSemantic averages confidence, unions contributors, and increments
// source count, per spec §3.1's semantic uniqueness constraint.
func mergeSemantic(existing *domain.Record, incoming domain.Content, incomingAgent string, incomingConfidence float64) {
	existing.Confidence = (existing.Confidence*float64(existing.SourceCount) + incomingConfidence) / float64(existing.SourceCount+1)
	existing.SourceCount++
	existing.Contributors = unionStrings(existing.Contributors, incomingAgent)

	if relations, ok := incoming[domain.FieldRelations].(map[string]interface{}); ok {
		mergeRelations(existing, relations)
	}
}

// mergeProcedural re-averages success_rate weighted by usage_count, and
// unions prerequisites and steps by longest-common-prefix, per spec §3.1.
func mergeProcedural(existing *domain.Record, incoming domain.Content, incomingAgent string, incomingSuccessRate float64, incomingUsage int64) {
	totalUsage := existing.UsageCount + incomingUsage
	if totalUsage > 0 {
		existing.SuccessRate = (existing.SuccessRate*float64(existing.UsageCount) + incomingSuccessRate*float64(incomingUsage)) / float64(totalUsage)
	}
	existing.UsageCount = totalUsage
	existing.SourceCount++
	existing.Contributors = unionStrings(existing.Contributors, incomingAgent)

	if incomingSteps, ok := toStringSlice(incoming[domain.FieldSteps]); ok {
		if existingSteps, ok := toStringSlice(existing.Content[domain.FieldSteps]); ok {
			existing.Content[domain.FieldSteps] = longestCommonPrefixUnion(existingSteps, incomingSteps)
		}
	}
	if incomingPre, ok := toStringSlice(incoming[domain.FieldPrerequisites]); ok {
		if existingPre, ok := toStringSlice(existing.Content[domain.FieldPrerequisites]); ok {
			existing.Content[domain.FieldPrerequisites] = unionStringSlices(existingPre, incomingPre)
		} else {
			existing.Content[domain.FieldPrerequisites] = incomingPre
		}
	}
}

func mergeRelations(existing *domain.Record, incoming map[string]interface{}) {
	relations, ok := existing.Content[domain.FieldRelations].(map[string]interface{})
	if !ok {
		relations = map[string]interface{}{}
	}
	for k, v := range incoming {
		relations[k] = v
	}
	existing.Content[domain.FieldRelations] = relations
}

func unionStrings(existing []string, next string) []string {
	if next == "" {
		return existing
	}
	for _, s := range existing {
		if s == next {
			return existing
		}
	}
	return append(existing, next)
}

func unionStringSlices(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// longestCommonPrefixUnion keeps the shared prefix of two ordered step
// sequences, then appends whichever sequence's remaining tail is longer —
// the "union by longest-common-prefix" merge spec §3.1 calls for when two
// procedures for the same (skill_name, domain) diverge partway through.
func longestCommonPrefixUnion(a, b []string) []string {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	prefix := append([]string{}, a[:i]...)
	if len(a)-i >= len(b)-i {
		return append(prefix, a[i:]...)
	}
	return append(prefix, b[i:]...)
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
