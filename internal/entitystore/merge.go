package entitystore

import (
	"entitystore/pkg/domain"
)

// shallowMerge overlays the top-level fields of update onto existing. Fields
// of existing that update does not mention are carried over. existing is
// returned unchanged when no field differs.
func shallowMerge(existing, update *domain.Entity) *domain.Entity {
	var changed map[string]any
	for k, v := range update.Fields {
		if old, ok := existing.Fields[k]; ok && domain.ValuesEqual(old, v) {
			continue
		}
		if changed == nil {
			changed = make(map[string]any)
		}
		changed[k] = v
	}
	marker := existing.Normalized || update.Normalized
	if changed == nil && marker == existing.Normalized {
		return existing
	}
	fields := make(map[string]any, len(existing.Fields)+len(changed))
	for k, v := range existing.Fields {
		fields[k] = v
	}
	for k, v := range changed {
		fields[k] = v
	}
	merged := existing.With(fields)
	merged.Normalized = marker
	return merged
}

// deepMerge merges update into existing recursively. Slices are never merged
// element-wise: a slice in update replaces the existing value unless both are
// structurally equal. Nested map[string]any values are merged key by key; any
// other composite value is replaced when it differs. existing is returned
// unchanged when nothing differs.
func deepMerge(existing, update *domain.Entity) *domain.Entity {
	fields, changed := deepMergeFields(existing.Fields, update.Fields)
	marker := existing.Normalized || update.Normalized
	if !changed && marker == existing.Normalized {
		return existing
	}
	merged := existing.With(fields)
	merged.Normalized = marker
	return merged
}

func deepMergeFields(existing, patch map[string]any) (map[string]any, bool) {
	var out map[string]any
	write := func(k string, v any) {
		if out == nil {
			out = make(map[string]any, len(existing)+len(patch))
			for ek, ev := range existing {
				out[ek] = ev
			}
		}
		out[k] = v
	}

	for k, pv := range patch {
		ev, exists := existing[k]
		if !exists {
			write(k, pv)
			continue
		}
		if domain.IsArray(pv) || domain.IsArray(ev) {
			if !domain.ValuesEqual(ev, pv) {
				write(k, pv)
			}
			continue
		}
		em, eIsMap := ev.(map[string]any)
		pm, pIsMap := pv.(map[string]any)
		if eIsMap && pIsMap {
			if merged, changed := deepMergeFields(em, pm); changed {
				write(k, merged)
			}
			continue
		}
		if !domain.ValuesEqual(ev, pv) {
			write(k, pv)
		}
	}

	if out == nil {
		return existing, false
	}
	return out, true
}
