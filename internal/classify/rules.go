package classify

import (
	"regexp"
	"strings"
)

// Hook types.
const (
	HookQuestion    = "question"
	HookStatistic   = "statistic"
	HookSocialProof = "social_proof"
	HookOffer       = "offer"
	HookPainPoint   = "pain_point"
	HookCuriosity   = "curiosity"
	HookBoldClaim   = "bold_claim"
	HookStory       = "story"
	HookDirect      = "direct"
)

type keywordRule struct {
	label    string
	keywords []string
}

// Ordered: the first matching rule wins.
var hookRules = []keywordRule{
	{HookOffer, []string{"% off", "discount", "free shipping", "free trial", "sale", "save $", "deal"}},
	{HookSocialProof, []string{"customers", "people love", "join ", "trusted by", "rated", "reviews", "bestselling", "best-selling"}},
	{HookPainPoint, []string{"tired of", "struggling", "sick of", "frustrated", "stop wasting", "problem", "hate when"}},
	{HookCuriosity, []string{"secret", "you won't believe", "what happens", "the truth", "here's why", "discover", "little-known"}},
	{HookStory, []string{"when i", "i was", "we started", "years ago", "my journey", "story"}},
	{HookBoldClaim, []string{"best ", "#1", "number one", "guaranteed", "never again", "the only", "world's"}},
}

var funnelBOFU = []string{
	"buy now", "shop now", "order now", "order today", "get yours", "checkout", "limited time",
	"ends tonight", "last chance", "% off", "discount", "promo code", "coupon", "free shipping", "sale",
}

var funnelMOFU = []string{
	"learn more", "how it works", "compare", " vs ", "versus", "case study", "demo", "webinar",
	"guide", "download", "free trial", "see why", "sign up", "features",
}

var ctaBOFU = []string{"shop", "buy", "order", "get offer", "book now", "subscribe"}
var ctaMOFU = []string{"learn", "sign up", "download", "watch", "get quote", "apply", "contact"}

var proofRules = []keywordRule{
	{"testimonial", []string{"\"", "“", "said", "says", "review", "testimonial", "told us"}},
	{"social_proof", []string{"customers", "users", "people", "trusted by", "join ", "rated", "stars", "community"}},
	{"authority", []string{"expert", "doctor", "certified", "award", "as seen", "featured in", "scientist", "clinically"}},
	{"guarantee", []string{"guarantee", "money-back", "money back", "risk-free", "risk free", "refund"}},
	{"demonstration", []string{"see how", "watch", "before and after", "results", "in action"}},
}

var offerRules = []keywordRule{
	{"discount", []string{"% off", "discount", "save ", "sale", "promo code", "coupon"}},
	{"free_trial", []string{"free trial", "try free", "try it free", "days free"}},
	{"free_shipping", []string{"free shipping", "free delivery"}},
	{"bonus", []string{"bonus", "free gift", "bogo", "buy one", "included free"}},
	{"urgency", []string{"limited time", "today only", "ends tonight", "last chance", "while supplies", "hurry", "only a few"}},
	{"guarantee", []string{"guarantee", "money-back", "risk-free", "risk free"}},
}

var differentiators = []string{
	"only", "unlike", "first", "patented", "exclusive", " vs ", "better than", "unique",
	"proprietary", "no other", "instead of", "compared to",
}

var angleRules = []keywordRule{
	{"price", []string{"price", "save", "cheap", "affordable", "% off", "discount", "$"}},
	{"transformation", []string{"transform", "before and after", "results", "become", "finally"}},
	{"convenience", []string{"easy", "fast", "quick", "minutes", "simple", "effortless", "hassle"}},
	{"quality", []string{"premium", "quality", "crafted", "durable", "handmade", "luxury"}},
	{"trust", []string{"trusted", "guarantee", "certified", "reviews", "rated"}},
	{"identity", []string{"for people who", "if you're a", "for women", "for men", "parents", "founders"}},
}

var (
	statRe     = regexp.MustCompile(`\d+(\.\d+)?\s?(%|x\b|percent)`)
	numberRe   = regexp.MustCompile(`\d`)
	priceRe    = regexp.MustCompile(`[$€£]\s?\d`)
	sentenceRe = regexp.MustCompile(`[.!?]+\s+|\n`)
)

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

func matchAll(text string, rules []keywordRule) []string {
	var out []string
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			out = append(out, r.label)
		}
	}
	return out
}

func firstMatch(text string, rules []keywordRule) string {
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			return r.label
		}
	}
	return ""
}
