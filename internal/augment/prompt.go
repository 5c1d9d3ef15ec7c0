package augment

import (
	"encoding/json"

	"github.com/kalambet/creativemri/internal/creative"
)

const systemPrompt = `You are a senior performance-marketing creative strategist reviewing one paid social ad.
Reply with a single JSON object and nothing else. Fields:
- "hook_phrase": the exact opening words that are meant to stop the scroll
- "secondary_hook": a supporting hook later in the copy, or ""
- "angle": the marketing angle in two to four words
- "unsupported_claims": claims in the copy with no proof offered (array of strings)
- "improvements": up to five concrete edits that would raise performance (array of strings)
- "hook_type": one of question, statistic, social_proof, offer, pain_point, curiosity, bold_claim, story, direct
- "funnel_stage": one of tofu, mofu, bofu
- "mofu_job": for mofu ads, the job the ad does (education, comparison, objection_handling, social_proof, demo), otherwise "not_applicable"
- "hook_quality": 0-100
- "proof_strength": 0-100
- "claim_proof_mismatch": one of none, low, medium, high
- "recommendation": one of keep, refine, replace
- "objections": buyer objections the ad leaves unanswered (array of strings)
- "video_first_2s": for video ads only, {"hook_present": bool, "quality": "weak"|"ok"|"strong"}; otherwise {"not_applicable": true}`

type adContext struct {
	ID            string               `json:"id"`
	Headline      string               `json:"headline"`
	PrimaryText   string               `json:"primary_text"`
	CallToAction  string               `json:"call_to_action,omitempty"`
	Destination   string               `json:"destination_url,omitempty"`
	Format        string               `json:"format,omitempty"`
	IsVideo       bool                 `json:"is_video"`
	RuleHookType  string               `json:"rule_hook_type"`
	RuleFunnel    string               `json:"rule_funnel_stage"`
	ProofTypes    []string             `json:"proof_types"`
	OfferElements []string             `json:"offer_elements"`
	OverallScore  int                  `json:"rule_overall_score"`
	Media         []creative.MediaItem `json:"media,omitempty"`
}

// BuildUserContent renders the ad as the JSON document the model reviews.
func BuildUserContent(ad creative.ClassifiedAd) string {
	b, _ := json.MarshalIndent(adContext{
		ID:            ad.ID,
		Headline:      ad.Headline,
		PrimaryText:   ad.PrimaryText,
		CallToAction:  ad.CallToAction,
		Destination:   ad.DestinationURL,
		Format:        ad.Format,
		IsVideo:       ad.IsVideo(),
		RuleHookType:  ad.HookType,
		RuleFunnel:    ad.FunnelStage,
		ProofTypes:    ad.ProofTypes,
		OfferElements: ad.OfferElements,
		OverallScore:  ad.OverallScore,
		Media:         ad.Media,
	}, "", "  ")
	return string(b)
}
