package operation

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

// systemUpgradeHandler executes in two phases: dispatch, then a health-check
// confirmation on a later pass. The phase marker lives in the persisted
// operation payload, so a crash between the phases resumes cleanly.
type systemUpgradeHandler struct {
	deps Deps
}

func (h *systemUpgradeHandler) Create(_ context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.SystemUpgrade == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "system-upgrade operation needs input")
	}
	target, err := semver.NewVersion(op.SystemUpgrade.Input.TargetVersion)
	if err != nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation,
			"target version %q is not valid semver", op.SystemUpgrade.Input.TargetVersion)
	}
	if h.deps.CurrentVersion != "" {
		current, err := semver.NewVersion(h.deps.CurrentVersion)
		if err == nil && !target.GreaterThan(current) {
			return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation,
				"target version %s does not upgrade running version %s", target, current)
		}
	}
	return op, nil
}

func (h *systemUpgradeHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindSystem, Action: resource.ActionUpgrade, ID: resource.AnyID}}
}

func (h *systemUpgradeHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	switch op.SystemUpgrade.Phase {
	case "":
		// First pass: mark the upgrade dispatched and hand back to the
		// pipeline. The external effect is asynchronous from here.
		op.SystemUpgrade.Phase = contracts.UpgradePhaseDispatched
		return Outcome{State: OutcomeProcessing, Operation: op}, nil
	case contracts.UpgradePhaseDispatched:
		if h.deps.HealthCheck != nil {
			if err := h.deps.HealthCheck(ctx); err != nil {
				return Outcome{}, err
			}
		}
		op.SystemUpgrade.Phase = contracts.UpgradePhaseConfirmed
		return Outcome{State: OutcomeCompleted, Operation: op}, nil
	case contracts.UpgradePhaseConfirmed:
		return Outcome{State: OutcomeCompleted, Operation: op}, nil
	}
	return Outcome{}, contracts.NewError(contracts.ErrKindConsistency,
		"system upgrade in unknown phase %q", op.SystemUpgrade.Phase)
}
