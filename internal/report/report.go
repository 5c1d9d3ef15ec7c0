// Package report builds the MRI report from augmented ads: the executive
// summary, the tear-down sample and the slots later filled by the
// statistics engine and the synthesizer.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/stats"
)

const highlightCount = 3

// Tear-down buckets.
const (
	BucketBest    = "best"
	BucketAverage = "average"
	BucketWeakest = "weakest"
)

// FastWins are generic remediation suggestions included in every summary.
var FastWins = []string{
	"Lead with the single strongest benefit in the first line of copy.",
	"Put a number, result or named customer next to every major claim.",
	"Use one clear call to action that matches the landing page.",
	"Name the buyer's main objection and answer it in the body text.",
	"Cut filler words so the headline reads in under two seconds.",
}

// Meta identifies the report.
type Meta struct {
	TotalAds    int       `json:"total_ads"`
	ReportLabel string    `json:"report_label"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SubscoreAverage is the batch mean of one subscore.
type SubscoreAverage struct {
	Name    string  `json:"subscore"`
	Average float64 `json:"average"`
}

// Highlight pairs a subscore with the ad that best illustrates it.
type Highlight struct {
	Subscore string  `json:"subscore"`
	Average  float64 `json:"average"`
	AdID     string  `json:"ad_id"`
	AdScore  int     `json:"ad_score"`
	Headline string  `json:"headline"`
}

// ExecutiveSummary is the top-of-report digest.
type ExecutiveSummary struct {
	OverallEffectivenessScore float64           `json:"overall_effectiveness_score"`
	SubscoresSummary          []SubscoreAverage `json:"subscores_summary"`
	TopStrengths              []Highlight       `json:"top_strengths"`
	TopLeaks                  []Highlight       `json:"top_leaks"`
	FastWins                  []string          `json:"fast_wins"`
}

// TearDownEntry is one ad selected for detailed review.
type TearDownEntry struct {
	Bucket       string               `json:"bucket"`
	Ad           creative.AugmentedAd `json:"ad"`
	WhatToChange []string             `json:"what_to_change"`
}

// TearDown is the curated review sample.
type TearDown struct {
	SelectedAds []TearDownEntry `json:"selected_ads"`
}

// Report is the finished output of a run.
type Report struct {
	Meta               Meta                     `json:"meta"`
	ExecutiveSummary   ExecutiveSummary         `json:"executive_summary"`
	Ads                []creative.AugmentedAd   `json:"ads"`
	TearDown           TearDown                 `json:"tear_down"`
	AggregateMetadata  *stats.AggregateMetadata `json:"aggregate_metadata,omitempty"`
	SynthesizedSummary map[string]any           `json:"synthesized_summary,omitempty"`
}

// Build aggregates ads into a Report. It never fails: zero ads give a
// report with zero totals and empty lists.
func Build(label string, ads []creative.AugmentedAd) *Report {
	r := &Report{
		Meta: Meta{
			TotalAds:    len(ads),
			ReportLabel: label,
			GeneratedAt: time.Now().UTC(),
		},
		Ads: make([]creative.AugmentedAd, len(ads)),
	}
	copy(r.Ads, ads)
	r.ExecutiveSummary = Summarize(ads)
	r.TearDown = SelectTearDown(ads)
	return r
}

// Summarize computes the executive summary.
func Summarize(ads []creative.AugmentedAd) ExecutiveSummary {
	sum := ExecutiveSummary{
		SubscoresSummary: make([]SubscoreAverage, len(creative.SubscoreNames)),
		TopStrengths:     []Highlight{},
		TopLeaks:         []Highlight{},
		FastWins:         append([]string{}, FastWins...),
	}
	for i, name := range creative.SubscoreNames {
		sum.SubscoresSummary[i] = SubscoreAverage{Name: name}
	}
	if len(ads) == 0 {
		return sum
	}

	n := float64(len(ads))
	var overall float64
	totals := make([]float64, len(creative.SubscoreNames))
	for _, ad := range ads {
		overall += float64(ad.OverallScore)
		for i, name := range creative.SubscoreNames {
			totals[i] += float64(ad.Subscores.Get(name))
		}
	}
	sum.OverallEffectivenessScore = round2(overall / n)
	for i := range totals {
		sum.SubscoresSummary[i].Average = round2(totals[i] / n)
	}

	desc := append([]SubscoreAverage{}, sum.SubscoresSummary...)
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Average > desc[j].Average })
	asc := append([]SubscoreAverage{}, sum.SubscoresSummary...)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Average < asc[j].Average })

	k := min(highlightCount, len(desc))
	for _, s := range desc[:k] {
		sum.TopStrengths = append(sum.TopStrengths, highlight(s, extremeAd(ads, s.Name, true)))
	}
	for _, s := range asc[:k] {
		sum.TopLeaks = append(sum.TopLeaks, highlight(s, extremeAd(ads, s.Name, false)))
	}
	return sum
}

// extremeAd returns the first ad with the highest (or lowest) value for the
// named subscore. Ties keep the earliest ad.
func extremeAd(ads []creative.AugmentedAd, name string, highest bool) creative.AugmentedAd {
	best := ads[0]
	bestV := best.Subscores.Get(name)
	for _, ad := range ads[1:] {
		v := ad.Subscores.Get(name)
		if (highest && v > bestV) || (!highest && v < bestV) {
			best, bestV = ad, v
		}
	}
	return best
}

func highlight(s SubscoreAverage, ad creative.AugmentedAd) Highlight {
	return Highlight{
		Subscore: s.Name,
		Average:  s.Average,
		AdID:     ad.ID,
		AdScore:  ad.Subscores.Get(s.Name),
		Headline: ad.Headline,
	}
}

// SelectTearDown picks up to two best, two average and two weakest ads by
// overall score. No ad appears in more than one bucket.
func SelectTearDown(ads []creative.AugmentedAd) TearDown {
	td := TearDown{SelectedAds: []TearDownEntry{}}
	n := len(ads)
	if n == 0 {
		return td
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return ads[order[i]].OverallScore > ads[order[j]].OverallScore
	})

	add := func(bucket string, from, to int) {
		for p := from; p < to; p++ {
			ad := ads[order[p]]
			td.SelectedAds = append(td.SelectedAds, TearDownEntry{
				Bucket:       bucket,
				Ad:           ad,
				WhatToChange: ad.Improvements(),
			})
		}
	}

	bestEnd := min(2, n)
	weakStart := max(bestEnd, n-2)
	mid := n / 2

	add(BucketBest, 0, bestEnd)
	add(BucketAverage, max(mid-1, bestEnd), min(mid+1, weakStart))
	add(BucketWeakest, weakStart, n)
	return td
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
