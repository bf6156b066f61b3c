package memory

import (
	"context"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/storage"
)

const (
	noveltyTopK              = 5
	domainSaturationOverride = 0.40 // novelty above this overrides saturation rejection
)

// admissionController implements spec §4.1's anti-overfitting gate: novelty,
// domain saturation, and a confidence/importance/success_rate floor.
type admissionController struct {
	ann              *storage.ANNIndex
	noveltyMin       float64
	domainSaturation float64
	scoreFloor       float64
}

func newAdmissionController(ann *storage.ANNIndex, noveltyMin, domainSaturation, scoreFloor float64) *admissionController {
	return &admissionController{
		ann:              ann,
		noveltyMin:       noveltyMin,
		domainSaturation: domainSaturation,
		scoreFloor:       scoreFloor,
	}
}

// decide runs the three admission signals in order and returns the first
// rejection reason encountered, or "" if the record is admitted.
func (a *admissionController) decide(ctx context.Context, kind domain.Kind, agentID, domainName string, embedding []float32, score float64) (domain.AdmissionRejection, error) {
	if score < a.scoreFloor {
		return domain.RejectBelowFloor, nil
	}

	maxSim, err := a.ann.MaxSimilarity(ctx, embedding, storage.CandidateFilter{Kinds: []domain.Kind{kind}, Limit: noveltyTopK})
	if err != nil {
		return "", err
	}
	novelty := 1 - maxSim
	if novelty < a.noveltyMin {
		return domain.RejectTooSimilar, nil
	}

	if domainName != "" {
		saturation, err := a.domainSaturationFraction(ctx, kind, agentID, domainName)
		if err != nil {
			return "", err
		}
		if saturation > a.domainSaturation && novelty < domainSaturationOverride {
			return domain.RejectDomainSaturated, nil
		}
	}

	return "", nil
}

// domainSaturationFraction is the fraction of the owner's (or global, for
// ownerless kinds) records already filed under domainName.
func (a *admissionController) domainSaturationFraction(ctx context.Context, kind domain.Kind, agentID, domainName string) (float64, error) {
	filter := storage.CandidateFilter{Kinds: []domain.Kind{kind}, AgentID: agentID}
	all, err := a.ann.Candidates(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}
	matching := 0
	for _, rec := range all {
		if rec.Metadata[domain.FieldDomain] == domainName {
			matching++
		}
	}
	return float64(matching) / float64(len(all)), nil
}
