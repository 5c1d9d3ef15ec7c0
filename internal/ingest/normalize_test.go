package ingest

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/creativemri/internal/creative"
)

func TestNormalize_EmptyInput(t *testing.T) {
	out := Normalize(nil)
	if out == nil {
		t.Fatal("Normalize(nil) returned nil, want empty slice")
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestNormalize_DropsShortAds(t *testing.T) {
	ads := []creative.AdRecord{
		{ID: "short", Headline: "Buy now", PrimaryText: "Great deal"},
		{ID: "ok", Headline: "Buy now", PrimaryText: "Great deal on running shoes today"},
	}
	out := Normalize(ads)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].ID != "ok" {
		t.Errorf("kept %q, want ok", out[0].ID)
	}
	if out[0].WordCount < MinWordCount {
		t.Errorf("word count = %d, below minimum", out[0].WordCount)
	}
}

func TestNormalize_ExactlyFiveWordsKept(t *testing.T) {
	out := Normalize([]creative.AdRecord{{ID: "five", Headline: "one two", PrimaryText: "three four five"}})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].WordCount != 5 {
		t.Errorf("word count = %d, want 5", out[0].WordCount)
	}
}

func TestNormalize_DeduplicatesFirstWins(t *testing.T) {
	ads := []creative.AdRecord{
		{ID: "a", Headline: "Sleep better tonight", PrimaryText: "Our mattress adapts to your body shape"},
		{ID: "b", Headline: "Sleep   better tonight", PrimaryText: "Our mattress adapts to your body shape"},
		{ID: "c", Headline: "Sleep better tonight", PrimaryText: "A different body of text entirely here"},
	}
	out := Normalize(ads)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "c" {
		t.Errorf("kept %q, %q; want a, c", out[0].ID, out[1].ID)
	}
}

func TestNormalize_DedupUsesPrefixes(t *testing.T) {
	head := strings.Repeat("h", 80)
	body := strings.Repeat("word ", 20)
	ads := []creative.AdRecord{
		{ID: "a", Headline: head + " tail one", PrimaryText: body + "ending one"},
		{ID: "b", Headline: head + " tail two", PrimaryText: body + "ending two"},
	}
	out := Normalize(ads)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("out = %+v, want only a", out)
	}
}

func TestNormalizeOne_CleansText(t *testing.T) {
	n := NormalizeOne(creative.AdRecord{
		Headline:    "  Hello\tthere \x07 friend ",
		PrimaryText: "<p>Save <b>20%</b> today</p><p>Shop&nbsp;now</p>",
		Format:      " VIDEO ",
	})
	if n.Headline != "Hello there friend" {
		t.Errorf("headline = %q", n.Headline)
	}
	if n.PrimaryText != "Save 20% today Shop now" {
		t.Errorf("primary text = %q", n.PrimaryText)
	}
	if n.FullText != "Hello there friend\nSave 20% today Shop now" {
		t.Errorf("full text = %q", n.FullText)
	}
	if n.Format != "video" {
		t.Errorf("format = %q", n.Format)
	}
}

func TestCleanText_KeepsAngleBracketCopy(t *testing.T) {
	cases := map[string]string{
		"Use code <SAVE20> at checkout for big savings":     "Use code <SAVE20> at checkout for big savings",
		"Use code <SAVE20> at <b>checkout</b> today":        "Use code <SAVE20> at checkout today",
		"Prices from <Starter> to <Pro/> plans":             "Prices from <Starter> to <Pro/> plans",
		"<p>Code <WELCOME10></p> <br/>ends <i>Sunday</i>":   "Code <WELCOME10> ends Sunday",
		"Half off <!-- tracking --> everything this weekend": "Half off everything this weekend",
	}
	for in, want := range cases {
		if got := CleanText(in); got != want {
			t.Errorf("CleanText(%q) = %q, want %q", in, got, want)
		}
	}

	n := NormalizeOne(creative.AdRecord{Headline: "Use code <SAVE20>", PrimaryText: "at checkout for big savings"})
	if n.WordCount != 8 {
		t.Errorf("word count = %d, want 8", n.WordCount)
	}
}

func TestTokenize_CaseInsensitiveAlnumRuns(t *testing.T) {
	want := []string{"get", "50", "off", "it", "s", "free"}
	if got := Tokenize("Get 50% OFF -- it's FREE!"); !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestLoadBatchFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "ads.yaml")
	if err := os.WriteFile(yamlPath, []byte(`label: spring
ads:
  - id: ad-1
    headline: Spring sale
    primary_text: Everything must go this weekend only
    exposure_proxy: 2.5
`), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err := LoadBatchFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadBatchFile(yaml): %v", err)
	}
	if req.Label != "spring" || len(req.Ads) != 1 {
		t.Fatalf("req = %+v", req)
	}
	if p := req.Ads[0].ExposureProxy; p == nil || math.Abs(*p-2.5) > 1e-9 {
		t.Errorf("exposure_proxy = %v, want 2.5", p)
	}

	jsonPath := filepath.Join(dir, "ads.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"id":"ad-2","headline":"h","primary_text":"b"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err = LoadBatchFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadBatchFile(json): %v", err)
	}
	if len(req.Ads) != 1 || req.Ads[0].ID != "ad-2" {
		t.Errorf("ads = %+v", req.Ads)
	}

	if _, err := LoadBatchFile(filepath.Join(dir, "ads.csv")); err == nil {
		t.Error("expected error for .csv")
	}
}
