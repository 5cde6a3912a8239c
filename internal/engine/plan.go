package engine

// Stage identifiers. Tier 1 and 2 stages are independent of each other;
// tier 3 is a dependency chain that runs in declaration order.
const (
	StageStructure = "structure"
	StageEncoding  = "encoding"

	StageMetadata = "metadata"
	StageLinks    = "links"

	StageFuzzyDetection     = "fuzzy-detection"
	StageFactValidation     = "fact-validation"
	StageSemanticValidation = "semantic-validation"
)

// Tier groups stages that share a completion barrier. Stages within a
// parallel tier run concurrently; a sequential tier runs them in order,
// each depending on its predecessor.
type Tier struct {
	Number     int
	Stages     []string
	Sequential bool
}

// TierPlan is the ordered execution plan for one run
type TierPlan struct {
	Tiers []Tier
}

// DefaultPlan returns the standard three-tier plan
func DefaultPlan() TierPlan {
	return TierPlan{Tiers: []Tier{
		{Number: 1, Stages: []string{StageStructure, StageEncoding}},
		{Number: 2, Stages: []string{StageMetadata, StageLinks}},
		{Number: 3, Stages: []string{StageFuzzyDetection, StageFactValidation, StageSemanticValidation}, Sequential: true},
	}}
}

// Filter restricts the plan to the requested stage ids. An empty
// request keeps the full plan; tiers left with no stages are dropped.
func (p TierPlan) Filter(requested []string) TierPlan {
	if len(requested) == 0 {
		return p
	}
	want := make(map[string]bool, len(requested))
	for _, id := range requested {
		want[id] = true
	}

	var out TierPlan
	for _, tier := range p.Tiers {
		var kept []string
		for _, id := range tier.Stages {
			if want[id] {
				kept = append(kept, id)
			}
		}
		if len(kept) > 0 {
			out.Tiers = append(out.Tiers, Tier{Number: tier.Number, Stages: kept, Sequential: tier.Sequential})
		}
	}
	return out
}

// StageIDs returns every stage in plan order
func (p TierPlan) StageIDs() []string {
	var ids []string
	for _, tier := range p.Tiers {
		ids = append(ids, tier.Stages...)
	}
	return ids
}

// Contains reports whether the plan includes a stage
func (p TierPlan) Contains(stageID string) bool {
	for _, tier := range p.Tiers {
		for _, id := range tier.Stages {
			if id == stageID {
				return true
			}
		}
	}
	return false
}
