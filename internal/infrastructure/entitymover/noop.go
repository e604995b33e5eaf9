// Package entitymover provides deployment-time entity.Mover implementations.
// The entity system a Worker node's entityMovement rule relocates entities
// within (spec.md §4.3.1) lives outside this module; NoopMover is the
// default wired when no such system's client is configured, logging the
// movement it would have performed instead of silently discarding it.
package entitymover

import (
	"context"
	"log"
)

// NoopMover logs every MoveToSection call and always succeeds. It is the
// default Mover for deployments that haven't wired an external entity
// system, so flows with entityMovement rules still run to completion
// instead of failing for want of a collaborator.
type NoopMover struct{}

// NewNoopMover returns a Mover that only logs.
func NewNoopMover() *NoopMover {
	return &NoopMover{}
}

func (m *NoopMover) MoveToSection(ctx context.Context, entityID, sectionID, completeAs string, meta map[string]interface{}, setType string) error {
	log.Printf("stitch: entity movement (no-op mover): entity=%s section=%s completeAs=%s setType=%s meta=%v", entityID, sectionID, completeAs, setType, meta)
	return nil
}
