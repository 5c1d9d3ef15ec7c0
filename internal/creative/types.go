// Package creative holds the ad records that flow through an MRI run and the
// intermediate shapes each stage adds to them.
package creative

import "strings"

// MediaType is the kind of asset attached to an ad.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Funnel stages produced by the rule classifier. The statistics engine also
// admits labels outside this set when the model supplies them.
const (
	StageTOFU = "tofu"
	StageMOFU = "mofu"
	StageBOFU = "bofu"
)

// MediaItem is one image or video attached to an ad. Analysis is the
// structured annotation returned by a media analysis service; nil means no
// annotation is available.
type MediaItem struct {
	Type     MediaType      `json:"type" yaml:"type"`
	URL      string         `json:"url" yaml:"url"`
	Analysis map[string]any `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// AdRecord is a raw ad as harvested by ingestion. Dates are kept as the
// strings the source produced; they are parsed only where time bucketing
// needs them.
type AdRecord struct {
	ID             string      `json:"id" yaml:"id"`
	Headline       string      `json:"headline" yaml:"headline"`
	PrimaryText    string      `json:"primary_text" yaml:"primary_text"`
	CallToAction   string      `json:"call_to_action,omitempty" yaml:"call_to_action,omitempty"`
	DestinationURL string      `json:"destination_url,omitempty" yaml:"destination_url,omitempty"`
	Format         string      `json:"format,omitempty" yaml:"format,omitempty"`
	StartDate      string      `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate        string      `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Media          []MediaItem `json:"media,omitempty" yaml:"media,omitempty"`
	ExposureProxy  *float64    `json:"exposure_proxy,omitempty" yaml:"exposure_proxy,omitempty"`
}

// IsVideo reports whether the ad is a video creative, either by its format
// tag or because it carries a video media item.
func (a AdRecord) IsVideo() bool {
	if strings.Contains(strings.ToLower(a.Format), "video") {
		return true
	}
	for _, m := range a.Media {
		if m.Type == MediaVideo {
			return true
		}
	}
	return false
}

// NormalizedAd is an AdRecord after cleaning.
type NormalizedAd struct {
	AdRecord
	FullText  string `json:"full_text"`
	WordCount int    `json:"word_count"`
	DedupKey  string `json:"-"`
}

// ClassifiedAd adds the rule-based labels and scores.
type ClassifiedAd struct {
	NormalizedAd
	HookType      string    `json:"hook_type"`
	HookPhrase    string    `json:"hook_phrase"`
	Angle         string    `json:"angle"`
	FunnelStage   string    `json:"funnel_stage"`
	ProofTypes    []string  `json:"proof_types"`
	OfferElements []string  `json:"offer_elements"`
	Subscores     Subscores `json:"subscores"`
	OverallScore  int       `json:"overall_score"`
}

// VideoHook describes the first two seconds of a video creative.
type VideoHook struct {
	HookPresent   *bool  `json:"hook_present,omitempty"`
	Quality       string `json:"quality,omitempty"`
	NotApplicable bool   `json:"not_applicable,omitempty"`
}

// Insights is the model-supplied block for one ad. The first five fields are
// the qualitative augmentation; the rest are optional diagnostics consumed by
// the statistics engine.
type Insights struct {
	HookPhrase        string   `json:"hook_phrase,omitempty"`
	SecondaryHook     string   `json:"secondary_hook,omitempty"`
	Angle             string   `json:"angle,omitempty"`
	UnsupportedClaims []string `json:"unsupported_claims"`
	Improvements      []string `json:"improvements"`

	HookType           string     `json:"hook_type,omitempty"`
	FunnelStage        string     `json:"funnel_stage,omitempty"`
	MOFUJob            string     `json:"mofu_job,omitempty"`
	HookQuality        *float64   `json:"hook_quality,omitempty"`
	ProofStrength      *float64   `json:"proof_strength,omitempty"`
	ClaimProofMismatch string     `json:"claim_proof_mismatch,omitempty"`
	Recommendation     string     `json:"recommendation,omitempty"`
	Objections         []string   `json:"objections,omitempty"`
	VideoFirst2s       *VideoHook `json:"video_first_2s,omitempty"`
}

// AugmentedAd is a ClassifiedAd plus the optional model block. LLM is nil
// when the model call failed or was not configured.
type AugmentedAd struct {
	ClassifiedAd
	LLM *Insights `json:"llm"`
}

// EffectiveFunnelStage prefers the model's stage label over the rule label.
func (a AugmentedAd) EffectiveFunnelStage() string {
	if a.LLM != nil && strings.TrimSpace(a.LLM.FunnelStage) != "" {
		return strings.ToLower(strings.TrimSpace(a.LLM.FunnelStage))
	}
	return a.FunnelStage
}

// EffectiveHookType prefers the model's hook type over the rule label.
func (a AugmentedAd) EffectiveHookType() string {
	if a.LLM != nil && strings.TrimSpace(a.LLM.HookType) != "" {
		return strings.ToLower(strings.TrimSpace(a.LLM.HookType))
	}
	return a.HookType
}

// Improvements returns the model's suggestions, or an empty list.
func (a AugmentedAd) Improvements() []string {
	if a.LLM == nil || len(a.LLM.Improvements) == 0 {
		return []string{}
	}
	out := make([]string, len(a.LLM.Improvements))
	copy(out, a.LLM.Improvements)
	return out
}

// VideoFirst2s returns the first-two-seconds analysis of a video ad. The
// model block wins; otherwise the first annotated video media item is read.
func (a AugmentedAd) VideoFirst2s() *VideoHook {
	if a.LLM != nil && a.LLM.VideoFirst2s != nil {
		return a.LLM.VideoFirst2s
	}
	for _, m := range a.Media {
		if m.Type != MediaVideo || m.Analysis == nil {
			continue
		}
		if vh := videoHookFromAnnotation(m.Analysis); vh != nil {
			return vh
		}
	}
	return nil
}

func videoHookFromAnnotation(ann map[string]any) *VideoHook {
	src := ann
	if nested, ok := ann["first_2s"].(map[string]any); ok {
		src = nested
	}
	vh := &VideoHook{}
	found := false
	if v, ok := src["hook_present"].(bool); ok {
		vh.HookPresent = &v
		found = true
	}
	if v, ok := src["quality"].(string); ok {
		vh.Quality = v
		found = true
	}
	if v, ok := ann["not_applicable"].(bool); ok {
		vh.NotApplicable = v
		found = true
	} else if v, ok := src["not_applicable"].(bool); ok {
		vh.NotApplicable = v
		found = true
	}
	if !found {
		return nil
	}
	return vh
}

// RedundancyCluster is a pre-computed group of near-duplicate ads.
type RedundancyCluster struct {
	ID         string   `json:"id" yaml:"id"`
	AdIDs      []string `json:"ad_ids" yaml:"ad_ids"`
	Similarity float64  `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// RunRequest is the input to one MRI run.
type RunRequest struct {
	Label              string              `json:"label" yaml:"label"`
	Ads                []AdRecord          `json:"ads" yaml:"ads"`
	RedundancyClusters []RedundancyCluster `json:"redundancy_clusters,omitempty" yaml:"redundancy_clusters,omitempty"`
}
