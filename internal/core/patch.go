package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// immutablePatchKeys are the JSON fields writers may never set directly. The
// store owns identity, scoping, versioning, and timestamps.
var immutablePatchKeys = map[string]struct{}{
	"id":         {},
	"factory_id": {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
}

// applyPatch merges a JSON field patch onto a typed entity. Merging happens
// at the top level of the entity's JSON form: each patch key replaces the
// field wholesale, and a null value resets it. Unknown fields and immutable
// fields reject the whole patch.
func applyPatch[T any](entity domain.EntityType, target *T, patch map[string]any) error {
	if len(patch) == 0 {
		return domain.ValidationError{Entity: entity, Field: "patch", Reason: "must not be empty"}
	}
	for key := range patch {
		if _, immutable := immutablePatchKeys[key]; immutable {
			return domain.ValidationError{Entity: entity, Field: key, Reason: "not patchable"}
		}
	}

	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("encode %s for patch: %w", entity, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode %s for patch: %w", entity, err)
	}
	for key, value := range patch {
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patched %s: %w", entity, err)
	}

	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return domain.ValidationError{Entity: entity, Field: "patch", Reason: err.Error()}
	}
	*target = out
	return nil
}
