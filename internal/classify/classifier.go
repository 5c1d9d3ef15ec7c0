// Package classify implements the deterministic rule-based labelling and
// scoring of normalized ads. Every result depends only on the ad itself.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/kalambet/creativemri/internal/creative"
)

// Ceilings bounds each subscore. Their sum must not exceed 100 so the
// overall score stays within [0,100].
type Ceilings struct {
	Hook                int
	Clarity             int
	Proof               int
	Differentiation     int
	ConversionReadiness int
}

// DefaultCeilings is the reference weighting.
var DefaultCeilings = Ceilings{Hook: 10, Clarity: 20, Proof: 20, Differentiation: 20, ConversionReadiness: 20}

// Sum returns the maximum achievable overall score.
func (c Ceilings) Sum() int {
	return c.Hook + c.Clarity + c.Proof + c.Differentiation + c.ConversionReadiness
}

// Validate checks that every ceiling is non-negative and the sum is at most 100.
func (c Ceilings) Validate() error {
	for _, v := range []int{c.Hook, c.Clarity, c.Proof, c.Differentiation, c.ConversionReadiness} {
		if v < 0 {
			return fmt.Errorf("subscore ceiling %d is negative", v)
		}
	}
	if c.Sum() > 100 {
		return fmt.Errorf("subscore ceilings sum to %d, must be at most 100", c.Sum())
	}
	return nil
}

// String renders the ceilings in ParseCeilings form.
func (c Ceilings) String() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d", c.Hook, c.Clarity, c.Proof, c.Differentiation, c.ConversionReadiness)
}

// ParseCeilings reads five comma-separated integers in subscore order.
func ParseCeilings(s string) (Ceilings, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return Ceilings{}, fmt.Errorf("expected 5 comma-separated ceilings, got %d", len(parts))
	}
	vals := make([]int, 5)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Ceilings{}, fmt.Errorf("invalid ceiling %q: %w", p, err)
		}
		vals[i] = v
	}
	c := Ceilings{Hook: vals[0], Clarity: vals[1], Proof: vals[2], Differentiation: vals[3], ConversionReadiness: vals[4]}
	if err := c.Validate(); err != nil {
		return Ceilings{}, err
	}
	return c, nil
}

// Classifier labels and scores ads.
type Classifier struct {
	ceilings Ceilings
}

// New creates a Classifier. Invalid ceilings fall back to DefaultCeilings.
func New(c Ceilings) *Classifier {
	if c.Validate() != nil || c.Sum() == 0 {
		c = DefaultCeilings
	}
	return &Classifier{ceilings: c}
}

// Ceilings returns the active ceilings.
func (c *Classifier) Ceilings() Ceilings {
	return c.ceilings
}

// ClassifyAll classifies each ad in order.
func (c *Classifier) ClassifyAll(ads []creative.NormalizedAd) []creative.ClassifiedAd {
	out := make([]creative.ClassifiedAd, len(ads))
	for i, ad := range ads {
		out[i] = c.Classify(ad)
	}
	return out
}

// Classify produces the labels and subscores for one ad.
func (c *Classifier) Classify(ad creative.NormalizedAd) creative.ClassifiedAd {
	text := strings.ToLower(ad.FullText)
	headline := strings.ToLower(ad.Headline)

	hookType := detectHookType(headline, text)
	proof := proofTypes(text)
	offers := matchAll(text, offerRules)
	angle := firstMatch(text, angleRules)
	if angle == "" {
		angle = "general"
	}

	raw := creative.Subscores{
		Hook:                scoreHook(hookType, ad.Headline),
		Clarity:             scoreClarity(ad),
		Proof:               scoreProof(proof),
		Differentiation:     scoreDifferentiation(text, angle),
		ConversionReadiness: scoreConversion(ad, offers),
	}
	subs := c.scale(raw)

	return creative.ClassifiedAd{
		NormalizedAd:  ad,
		HookType:      hookType,
		HookPhrase:    hookPhrase(ad),
		Angle:         angle,
		FunnelStage:   funnelStage(text, strings.ToLower(ad.CallToAction)),
		ProofTypes:    nonNil(proof),
		OfferElements: nonNil(offers),
		Subscores:     subs,
		OverallScore:  subs.Total(),
	}
}

func (c *Classifier) scale(raw creative.Subscores) creative.Subscores {
	return creative.Subscores{
		Hook:                rescale(raw.Hook, DefaultCeilings.Hook, c.ceilings.Hook),
		Clarity:             rescale(raw.Clarity, DefaultCeilings.Clarity, c.ceilings.Clarity),
		Proof:               rescale(raw.Proof, DefaultCeilings.Proof, c.ceilings.Proof),
		Differentiation:     rescale(raw.Differentiation, DefaultCeilings.Differentiation, c.ceilings.Differentiation),
		ConversionReadiness: rescale(raw.ConversionReadiness, DefaultCeilings.ConversionReadiness, c.ceilings.ConversionReadiness),
	}
}

func rescale(v, from, to int) int {
	v = clamp(v, from)
	if from == to {
		return v
	}
	if from == 0 {
		return 0
	}
	return clamp(int(math.Round(float64(v)*float64(to)/float64(from))), to)
}

func clamp(v, ceiling int) int {
	if v < 0 {
		return 0
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

func detectHookType(headline, text string) string {
	lead := headline
	if lead == "" {
		lead = firstSentence(text)
	}
	switch {
	case strings.HasSuffix(strings.TrimSpace(lead), "?") || startsWithQuestionWord(lead):
		return HookQuestion
	case statRe.MatchString(lead):
		return HookStatistic
	}
	if h := firstMatch(lead, hookRules); h != "" {
		return h
	}
	if h := firstMatch(firstSentence(text), hookRules); h != "" {
		return h
	}
	return HookDirect
}

var questionWords = []string{"what ", "why ", "how ", "who ", "when ", "where ", "are you ", "do you ", "is your ", "can you ", "ever "}

func startsWithQuestionWord(s string) bool {
	s = strings.TrimSpace(s)
	for _, w := range questionWords {
		if strings.HasPrefix(s, w) {
			return true
		}
	}
	return false
}

func funnelStage(text, cta string) string {
	switch {
	case containsAny(text, funnelBOFU), cta != "" && containsAny(cta, ctaBOFU):
		return creative.StageBOFU
	case containsAny(text, funnelMOFU), cta != "" && containsAny(cta, ctaMOFU):
		return creative.StageMOFU
	}
	return creative.StageTOFU
}

func proofTypes(text string) []string {
	out := matchAll(text, proofRules)
	if statRe.MatchString(text) {
		out = append(out, "statistic")
	}
	sort.Strings(out)
	return out
}

var hookBase = map[string]int{
	HookStatistic:   7,
	HookPainPoint:   7,
	HookQuestion:    6,
	HookCuriosity:   6,
	HookSocialProof: 6,
	HookOffer:       6,
	HookBoldClaim:   5,
	HookStory:       5,
	HookDirect:      3,
}

func scoreHook(hookType, headline string) int {
	score := hookBase[hookType]
	words := len(strings.Fields(headline))
	if words >= 3 && words <= 12 {
		score += 2
	}
	if numberRe.MatchString(headline) {
		score++
	}
	return score
}

func scoreClarity(ad creative.NormalizedAd) int {
	score := 6
	switch {
	case ad.WordCount >= 12 && ad.WordCount <= 90:
		score += 6
	case ad.WordCount > 90 && ad.WordCount <= 150:
		score += 3
	}
	switch avg := avgSentenceLength(ad.FullText); {
	case avg > 0 && avg <= 20:
		score += 4
	case avg > 0 && avg <= 30:
		score += 2
	}
	if ad.Headline != "" {
		score += 2
	}
	if capsRatio(ad.FullText) < 0.3 {
		score += 2
	}
	return score
}

func scoreProof(types []string) int {
	return 5 * len(types)
}

func scoreDifferentiation(text, angle string) int {
	score := 4 * countMatches(text, differentiators)
	if score > 12 {
		score = 12
	}
	if numberRe.MatchString(text) {
		score += 4
	}
	if angle != "general" {
		score += 4
	}
	return score
}

func scoreConversion(ad creative.NormalizedAd, offers []string) int {
	score := 0
	if strings.TrimSpace(ad.CallToAction) != "" {
		score += 6
	}
	if ad.DestinationURL != "" {
		score += 4
	}
	offerPts := 3 * len(offers)
	if offerPts > 6 {
		offerPts = 6
	}
	score += offerPts
	for _, o := range offers {
		if o == "urgency" {
			score += 4
			break
		}
	}
	if priceRe.MatchString(ad.FullText) && score < DefaultCeilings.ConversionReadiness {
		score += 2
	}
	return score
}

func hookPhrase(ad creative.NormalizedAd) string {
	src := ad.Headline
	if src == "" {
		src = ad.PrimaryText
	}
	s := []rune(firstSentence(src))
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(string(s))
}

func firstSentence(s string) string {
	loc := sentenceRe.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]+1]
}

func avgSentenceLength(s string) float64 {
	var total, n int
	for _, sent := range sentenceRe.Split(s, -1) {
		words := len(strings.Fields(sent))
		if words == 0 {
			continue
		}
		total += words
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

func capsRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
