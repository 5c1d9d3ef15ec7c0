// Package media fetches structured annotations for ad images and videos from
// an external analysis service.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/creativemri/internal/creative"
)

// Analyzer returns the annotation for one media asset. A nil map with a nil
// error means the service has nothing for the asset.
type Analyzer interface {
	Analyze(ctx context.Context, kind creative.MediaType, url string) (map[string]any, error)
}

const defaultTimeout = 30 * time.Second

// HTTPAnalyzer posts {type, url} to an analysis endpoint and reads a JSON
// object back.
type HTTPAnalyzer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPAnalyzer creates an analyzer for the given endpoint URL.
func NewHTTPAnalyzer(endpoint string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type analyzeRequest struct {
	Type creative.MediaType `json:"type"`
	URL  string             `json:"url"`
}

// Analyze implements Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, kind creative.MediaType, url string) (map[string]any, error) {
	body, err := json.Marshal(analyzeRequest{Type: kind, URL: url})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("analyze: unexpected status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding annotation: %w", err)
	}
	return out, nil
}

// Annotator fills missing media annotations, caching results by URL.
type Annotator struct {
	analyzer Analyzer
	cache    *lru.Cache[string, map[string]any]
}

// NewAnnotator wraps analyzer with an LRU cache of the given size.
func NewAnnotator(analyzer Analyzer, cacheSize int) (*Annotator, error) {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, map[string]any](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating annotation cache: %w", err)
	}
	return &Annotator{analyzer: analyzer, cache: cache}, nil
}

// Annotate sets Analysis on every media item that lacks one and returns the
// number of items annotated. Failures are logged and leave the item as is.
// The input slice is not modified; a copy with fresh media slices is returned.
func (a *Annotator) Annotate(ctx context.Context, ads []creative.NormalizedAd) ([]creative.NormalizedAd, int) {
	out := make([]creative.NormalizedAd, len(ads))
	annotated := 0
	for i, ad := range ads {
		out[i] = ad
		if len(ad.Media) == 0 {
			continue
		}
		items := make([]creative.MediaItem, len(ad.Media))
		copy(items, ad.Media)
		for j, m := range items {
			if m.Analysis != nil || m.URL == "" {
				continue
			}
			if ann := a.lookup(ctx, ad.ID, m); ann != nil {
				items[j].Analysis = ann
				annotated++
			}
		}
		out[i].Media = items
	}
	return out, annotated
}

func (a *Annotator) lookup(ctx context.Context, adID string, m creative.MediaItem) map[string]any {
	key := string(m.Type) + "|" + m.URL
	if ann, ok := a.cache.Get(key); ok {
		return ann
	}
	ann, err := a.analyzer.Analyze(ctx, m.Type, m.URL)
	if err != nil {
		slog.Warn("media analysis failed", "ad_id", adID, "url", m.URL, "error", err)
		return nil
	}
	if ann != nil {
		a.cache.Add(key, ann)
	}
	return ann
}
