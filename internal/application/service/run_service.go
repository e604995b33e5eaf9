// Package service orchestrates the compiler, Store, and engine for the three
// control-surface endpoints (spec.md §4.5): starting a run, a worker
// callback, and a UX-complete. Grounded on the teacher's
// internal/application/service/run_service.go, stripped of the
// multitask-strategy/checkpoint concerns that have no Stitch equivalent.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/duragraph/duragraph/internal/application/compiler"
	"github.com/duragraph/duragraph/internal/application/engine"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// RunService is the application-layer facade the HTTP handlers call.
type RunService struct {
	Store       store.Store
	Flows       store.FlowRepository
	Engine      *engine.Engine
	KnownWorker compiler.WorkerTypeKnown
}

// New constructs a RunService.
func New(st store.Store, flows store.FlowRepository, eng *engine.Engine, known compiler.WorkerTypeKnown) *RunService {
	return &RunService{Store: st, Flows: flows, Engine: eng, KnownWorker: known}
}

// StartRun implements POST /api/flows/:id/run (spec.md §4.5, §6). If visual
// is non-nil it is compiled and, when its content differs from the flow's
// current version, persisted as a new version; an unchanged visual reuses
// the existing version id. If visual is nil the flow must already have a
// current version.
func (s *RunService) StartRun(ctx context.Context, flowID string, visual *stitchgraph.VisualGraph, entityID string, input map[string]interface{}) (run *stitchrun.Run, versionID string, err error) {
	if visual != nil {
		graph, errs := compiler.Compile(*visual, s.KnownWorker)
		if len(errs) > 0 {
			return nil, "", compileError(errs)
		}
		hash, err := hashVisual(*visual)
		if err != nil {
			return nil, "", errors.Internal("hash visual graph", err)
		}
		curID, curHash, ok, err := s.Flows.CurrentVersion(ctx, flowID)
		if err != nil {
			return nil, "", err
		}
		if ok && curHash == hash {
			versionID = curID
		} else {
			versionID, err = s.Flows.CreateVersion(ctx, flowID, hash, *visual, graph)
			if err != nil {
				return nil, "", err
			}
		}
	} else {
		curID, _, ok, err := s.Flows.CurrentVersion(ctx, flowID)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", errors.InvalidInput("flow_id", "flow has no current version and no visualGraph was supplied")
		}
		versionID = curID
	}

	trigger := stitchrun.Trigger{Type: "manual", Timestamp: time.Now()}
	run, err = s.Engine.StartRun(ctx, versionID, trigger, entityID, input)
	if err != nil {
		return nil, "", err
	}
	return run, versionID, nil
}

// HandleCallback implements POST /api/stitch/callback/:runId/:nodeId.
func (s *RunService) HandleCallback(ctx context.Context, runID, nodeID string, succeeded bool, output interface{}, errMsg string) error {
	if _, err := s.Store.GetRun(ctx, runID); err != nil {
		return err
	}
	return s.Engine.Callback(ctx, runID, nodeID, succeeded, output, errMsg)
}

// HandleComplete implements POST /api/stitch/complete/:runId/:nodeId.
func (s *RunService) HandleComplete(ctx context.Context, runID, nodeID string, input interface{}) error {
	if _, err := s.Store.GetRun(ctx, runID); err != nil {
		return err
	}
	return s.Engine.Complete(ctx, runID, nodeID, input)
}

// GetRun implements GET /api/runs/:id (supplemented feature, SPEC_FULL.md §6).
func (s *RunService) GetRun(ctx context.Context, runID string) (*stitchrun.Run, error) {
	return s.Store.GetRun(ctx, runID)
}

func hashVisual(visual stitchgraph.VisualGraph) (string, error) {
	b, err := json.Marshal(visual)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// compileError maps the compiler's accumulated ValidationErrors onto the
// first one's canonical DomainError, with the full list preserved in
// Details for the caller to render (spec.md §7's Validation taxonomy).
func compileError(errs []stitchgraph.ValidationError) error {
	first := errs[0]
	var de *errors.DomainError
	switch first.Kind {
	case stitchgraph.ErrCycle:
		de = errors.Cycle(first.Nodes)
	case stitchgraph.ErrMissingRequiredInput:
		de = errors.MissingRequiredInput(first.Node, first.Input)
	case stitchgraph.ErrEdgeEndpoint:
		de = errors.EdgeEndpoint(first.Edge, first.Detail)
	case stitchgraph.ErrUnknownWorkerType:
		de = errors.UnknownWorkerType(first.Node)
	default:
		de = errors.NewDomainError("VALIDATION_ERROR", "execution graph failed to compile", nil)
	}
	all := make([]string, len(errs))
	for i, e := range errs {
		all[i] = e.Error()
	}
	return de.WithDetails("all_errors", all)
}
