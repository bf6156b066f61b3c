package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
)

const maxMetadataBytes = 10 * 1024

// validateContent enforces the kind-specific required fields and the shape
// constraints of spec §3.1 (string length caps, non-empty text).
func validateContent(kind domain.Kind, content domain.Content) error {
	if !kind.Valid() {
		return coreerr.New("memory.validate", "ValidationError", fmt.Errorf("%w: unknown kind %q", coreerr.ErrValidation, kind))
	}
	for _, field := range domain.RequiredFields(kind) {
		v, ok := content[field]
		if !ok || isEmptyValue(v) {
			return coreerr.New("memory.validate", "ValidationError", fmt.Errorf("%w: missing required field %q", coreerr.ErrValidation, field))
		}
	}

	switch kind {
	case domain.KindSemantic:
		if s, ok := content[domain.FieldConcept].(string); ok && len(s) > 255 {
			return coreerr.New("memory.validate", "ValidationError", fmt.Errorf("%w: concept exceeds 255 chars", coreerr.ErrValidation))
		}
	case domain.KindProcedural:
		if s, ok := content[domain.FieldSkillName].(string); ok && len(s) > 255 {
			return coreerr.New("memory.validate", "ValidationError", fmt.Errorf("%w: skill_name exceeds 255 chars", coreerr.ErrValidation))
		}
	}
	return nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func validateMetadataSize(m domain.Metadata) error {
	if len(m) == 0 {
		return nil
	}
	n := 0
	for k, v := range m {
		n += len(k) + len(fmt.Sprintf("%v", v))
	}
	if n > maxMetadataBytes {
		return coreerr.New("memory.validate", "ValidationError", fmt.Errorf("%w: metadata exceeds 10KB", coreerr.ErrValidation))
	}
	return nil
}

// canonicalProjection renders content as a deterministic, sorted-key text
// string so identical content always produces the same embedding input
// (embed() is documented idempotent for identical input, spec §4.2).
func canonicalProjection(kind domain.Kind, content domain.Content) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(kind))
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, content[k])
	}
	return b.String()
}
