// Package stats computes the exposure-weighted statistics and time-series
// aggregates embedded in a report. Every function here is pure.
package stats

import (
	"math"
	"sort"
	"strings"

	"github.com/kalambet/creativemri/internal/creative"
)

// DefaultSubscore is used for a model sub-score an ad does not carry.
const DefaultSubscore = 50.0

const (
	unknownLabel       = "unknown"
	notApplicableLabel = "not_applicable"
	maxHookTypes       = 10
)

// Weight returns the ad's exposure proxy, or 1 when it is missing, non-finite
// or negative. A zero proxy is a real weight: the ad counts in raw shares but
// not in weighted ones.
func Weight(ad creative.AdRecord) float64 {
	if ad.ExposureProxy == nil {
		return 1
	}
	w := *ad.ExposureProxy
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 1
	}
	return w
}

// Distribution groups shares by dimension.
type Distribution struct {
	Funnel map[string]float64 `json:"funnel"`
}

// HookTypeShare is one entry of the dominant hook-type ranking.
type HookTypeShare struct {
	HookType string  `json:"hook_type"`
	Share    float64 `json:"share"`
}

// RecommendationCounts is the raw part of the replace/refine mix.
type RecommendationCounts struct {
	ReplaceCount int     `json:"replace_count"`
	RefineCount  int     `json:"refine_count"`
	ReplaceRate  float64 `json:"replace_rate"`
	RefineRate   float64 `json:"refine_rate"`
}

// RecommendationRates is the weighted part of the replace/refine mix.
type RecommendationRates struct {
	ReplaceRate float64 `json:"replace_rate"`
	RefineRate  float64 `json:"refine_rate"`
}

// ReplaceRefineMix compares replace and refine recommendations.
type ReplaceRefineMix struct {
	Raw              RecommendationCounts `json:"raw"`
	ExposureWeighted RecommendationRates  `json:"exposure_weighted"`
}

// VideoFirst2s summarizes hook presence in the opening of video ads.
type VideoFirst2s struct {
	VideoAds                  int                `json:"video_ads"`
	AnalyzedAds               int                `json:"analyzed_ads"`
	HookPresentRateWeighted   float64            `json:"hook_present_rate_exposure_weighted"`
	QualityDistributionWeight map[string]float64 `json:"quality_distribution_exposure_weighted"`
}

// Exposure is the exposure-weighted statistics block.
type Exposure struct {
	TotalWeight                  float64            `json:"total_exposure_weight"`
	DistributionRaw              Distribution       `json:"distribution_raw"`
	DistributionExposureWeighted Distribution       `json:"distribution_exposure_weighted"`
	MOFUJobSplitExposureWeighted map[string]float64 `json:"mofu_job_split_exposure_weighted"`
	DominantHookTypes            []HookTypeShare    `json:"dominant_hook_types"`
	AvgHookQuality               float64            `json:"avg_hook_quality"`
	AvgProofStrength             float64            `json:"avg_proof_strength"`
	ClaimProofMismatchRate       float64            `json:"claim_proof_mismatch_rate"`
	ReplaceVsRefineMix           ReplaceRefineMix   `json:"replace_vs_refine_mix"`
	VideoFirst2s                 VideoFirst2s       `json:"video_first_2s"`
}

// ComputeExposure builds the exposure statistics for ads. Every rate and
// share lies in [0,1]; empty denominators yield 0 or the documented default.
func ComputeExposure(ads []creative.AugmentedAd) Exposure {
	var (
		totalW        float64
		funnelRaw     = map[string]float64{}
		funnelW       = map[string]float64{}
		mofuJobs      = map[string]float64{}
		mofuW         float64
		hookW         = map[string]float64{}
		qualitySum    float64
		proofSum      float64
		mismatchW     float64
		replaceN      int
		refineN       int
		replaceW      float64
		refineW       float64
		video         VideoFirst2s
		videoPresentW float64
		videoHookW    float64
		videoQuality  = map[string]float64{}
		videoQualityW float64
	)

	for _, ad := range ads {
		w := Weight(ad.AdRecord)
		totalW += w

		stage := labelOr(ad.EffectiveFunnelStage(), unknownLabel)
		funnelRaw[stage]++
		funnelW[stage] += w

		if stage == creative.StageMOFU && ad.LLM != nil {
			job := normLabel(ad.LLM.MOFUJob)
			if job != "" && job != notApplicableLabel && job != unknownLabel {
				mofuJobs[job] += w
				mofuW += w
			}
		}

		hookW[labelOr(ad.EffectiveHookType(), unknownLabel)] += w

		hq, ps := DefaultSubscore, DefaultSubscore
		if ad.LLM != nil {
			if ad.LLM.HookQuality != nil {
				hq = *ad.LLM.HookQuality
			}
			if ad.LLM.ProofStrength != nil {
				ps = *ad.LLM.ProofStrength
			}
			switch normLabel(ad.LLM.ClaimProofMismatch) {
			case "medium", "high":
				mismatchW += w
			}
			switch normLabel(ad.LLM.Recommendation) {
			case "replace":
				replaceN++
				replaceW += w
			case "refine":
				refineN++
				refineW += w
			}
		}
		qualitySum += hq * w
		proofSum += ps * w

		if !ad.IsVideo() {
			continue
		}
		video.VideoAds++
		vh := ad.VideoFirst2s()
		if vh == nil || vh.NotApplicable {
			continue
		}
		video.AnalyzedAds++
		if vh.HookPresent != nil {
			videoHookW += w
			if *vh.HookPresent {
				videoPresentW += w
			}
		}
		if q := normLabel(vh.Quality); q != "" {
			videoQuality[q] += w
			videoQualityW += w
		}
	}

	n := float64(len(ads))
	out := Exposure{
		TotalWeight:                  totalW,
		DistributionRaw:              Distribution{Funnel: shares(funnelRaw, n)},
		DistributionExposureWeighted: Distribution{Funnel: shares(funnelW, totalW)},
		MOFUJobSplitExposureWeighted: shares(mofuJobs, mofuW),
		DominantHookTypes:            topHookTypes(hookW, totalW),
		AvgHookQuality:               ratioOr(qualitySum, totalW, DefaultSubscore),
		AvgProofStrength:             ratioOr(proofSum, totalW, DefaultSubscore),
		ClaimProofMismatchRate:       ratioOr(mismatchW, totalW, 0),
	}

	recN := float64(replaceN + refineN)
	recW := replaceW + refineW
	out.ReplaceVsRefineMix = ReplaceRefineMix{
		Raw: RecommendationCounts{
			ReplaceCount: replaceN,
			RefineCount:  refineN,
			ReplaceRate:  ratioOr(float64(replaceN), recN, 0),
			RefineRate:   ratioOr(float64(refineN), recN, 0),
		},
		ExposureWeighted: RecommendationRates{
			ReplaceRate: ratioOr(replaceW, recW, 0),
			RefineRate:  ratioOr(refineW, recW, 0),
		},
	}

	video.HookPresentRateWeighted = ratioOr(videoPresentW, videoHookW, 0)
	video.QualityDistributionWeight = shares(videoQuality, videoQualityW)
	out.VideoFirst2s = video
	return out
}

func topHookTypes(weights map[string]float64, total float64) []HookTypeShare {
	out := make([]HookTypeShare, 0, len(weights))
	for k, w := range weights {
		out = append(out, HookTypeShare{HookType: k, Share: ratioOr(w, total, 0)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Share != out[j].Share {
			return out[i].Share > out[j].Share
		}
		return out[i].HookType < out[j].HookType
	})
	if len(out) > maxHookTypes {
		out = out[:maxHookTypes]
	}
	return out
}

// shares divides every value by total. A zero total yields an empty map.
func shares(m map[string]float64, total float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	if total <= 0 {
		return out
	}
	for k, v := range m {
		out[k] = clamp01(v / total)
	}
	return out
}

func ratioOr(num, den, def float64) float64 {
	if den <= 0 || math.IsNaN(den) {
		return def
	}
	return num / den
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func labelOr(s, def string) string {
	if s = normLabel(s); s == "" {
		return def
	}
	return s
}
