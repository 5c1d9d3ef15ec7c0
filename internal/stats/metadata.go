package stats

import (
	"github.com/kalambet/creativemri/internal/creative"
)

// Distributions are plain per-label ad counts.
type Distributions struct {
	Funnel     map[string]int `json:"funnel"`
	HookTypes  map[string]int `json:"hook_types"`
	ProofTypes map[string]int `json:"proof_types"`
	Objections map[string]int `json:"objections"`
}

// ClusterSummary describes one redundancy cluster relative to the batch.
type ClusterSummary struct {
	ID          string   `json:"id"`
	Label       string   `json:"label,omitempty"`
	Size        int      `json:"size"`
	Similarity  float64  `json:"similarity,omitempty"`
	AdIDs       []string `json:"ad_ids"`
	PresentAds  int      `json:"present_ads"`
	AvgScore    float64  `json:"avg_overall_score"`
	FunnelStage string   `json:"dominant_funnel_stage,omitempty"`
}

// AggregateMetadata is the batch-level payload the synthesizer sends to the
// model and the report carries.
type AggregateMetadata struct {
	AdCount            int              `json:"ad_count"`
	TimeSeries         TimeSeries       `json:"time_series"`
	Distributions      Distributions    `json:"distributions"`
	Exposure           Exposure         `json:"exposure"`
	RedundancyClusters []ClusterSummary `json:"redundancy_clusters"`
}

// BuildAggregateMetadata computes every batch-level aggregate for ads.
func BuildAggregateMetadata(ads []creative.AugmentedAd, clusters []creative.RedundancyCluster) AggregateMetadata {
	return AggregateMetadata{
		AdCount:            len(ads),
		TimeSeries:         ComputeTimeSeries(ads),
		Distributions:      ComputeDistributions(ads),
		Exposure:           ComputeExposure(ads),
		RedundancyClusters: SummarizeClusters(ads, clusters),
	}
}

// ComputeDistributions counts funnel stages, hook types, proof types and
// objections. Model labels win over rule labels where both exist.
func ComputeDistributions(ads []creative.AugmentedAd) Distributions {
	d := Distributions{
		Funnel:     map[string]int{},
		HookTypes:  map[string]int{},
		ProofTypes: map[string]int{},
		Objections: map[string]int{},
	}
	for _, ad := range ads {
		d.Funnel[labelOr(ad.EffectiveFunnelStage(), unknownLabel)]++
		d.HookTypes[labelOr(ad.EffectiveHookType(), unknownLabel)]++
		for _, p := range ad.ProofTypes {
			d.ProofTypes[normLabel(p)]++
		}
		if ad.LLM == nil {
			continue
		}
		seen := map[string]bool{}
		for _, o := range ad.LLM.Objections {
			o = normLabel(o)
			if o == "" || seen[o] {
				continue
			}
			seen[o] = true
			d.Objections[o]++
		}
	}
	return d
}

// SummarizeClusters passes pre-computed clusters through, adding how many of
// their ads are in this batch and how those ads scored.
func SummarizeClusters(ads []creative.AugmentedAd, clusters []creative.RedundancyCluster) []ClusterSummary {
	byID := make(map[string]creative.AugmentedAd, len(ads))
	for _, ad := range ads {
		byID[ad.ID] = ad
	}

	out := make([]ClusterSummary, 0, len(clusters))
	for _, c := range clusters {
		s := ClusterSummary{
			ID:         c.ID,
			Label:      c.Label,
			Size:       len(c.AdIDs),
			Similarity: c.Similarity,
			AdIDs:      append([]string{}, c.AdIDs...),
		}
		var total int
		stages := map[string]int{}
		for _, id := range c.AdIDs {
			ad, ok := byID[id]
			if !ok {
				continue
			}
			s.PresentAds++
			total += ad.OverallScore
			stages[labelOr(ad.EffectiveFunnelStage(), unknownLabel)]++
		}
		if s.PresentAds > 0 {
			s.AvgScore = float64(total) / float64(s.PresentAds)
			s.FunnelStage = dominant(stages)
		}
		out = append(out, s)
	}
	return out
}

func dominant(counts map[string]int) string {
	best, bestN := "", -1
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}
