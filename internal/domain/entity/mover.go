// Package entity holds the narrow entity-mover side-effect contract a Worker
// node invokes on completion when its config declares entityMovement
// (spec.md §4.3.1). The engine depends only on this interface, never on the
// Store directly, so the edge walker and node handlers stay decoupled from
// how entities are actually persisted.
package entity

import (
	"context"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
)

// Mover performs the entity relocation side effect. Implementations are
// expected to be idempotent-ish but are not required to be: callers treat
// any error as log-and-swallow (spec.md §4.3.1, §7), never as a run failure.
type Mover interface {
	MoveToSection(ctx context.Context, entityID, sectionID, completeAs string, meta map[string]interface{}, setType string) error
}

// Apply runs the onSuccess or onFailure rule of movement (whichever matches
// nodeSucceeded) against entityID, or does nothing if movement is nil, the
// matching rule is unset, or entityID is empty (no entity attached to the
// run). meta carries the journey-event context the Mover attaches to the
// relocation record.
func Apply(ctx context.Context, mover Mover, movement *stitchgraph.EntityMovement, entityID string, nodeSucceeded bool, meta map[string]interface{}) error {
	if movement == nil || entityID == "" {
		return nil
	}
	var rule *stitchgraph.MovementRule
	if nodeSucceeded {
		rule = movement.OnSuccess
	} else {
		rule = movement.OnFailure
	}
	if rule == nil {
		return nil
	}
	return mover.MoveToSection(ctx, entityID, rule.TargetSectionID, rule.CompleteAs, meta, rule.SetEntityType)
}
