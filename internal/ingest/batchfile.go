package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/creativemri/internal/creative"
)

// ErrUnsupportedFormat is returned for batch files that are neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported batch file format")

// LoadBatchFile reads a run request from a .json, .yaml or .yml file. The file
// may hold either a full request object or a bare list of ads.
func LoadBatchFile(path string) (creative.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return creative.RunRequest{}, fmt.Errorf("reading batch file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeBatch(data, false)
	case ".yaml", ".yml":
		return DecodeBatch(data, true)
	}
	return creative.RunRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// DecodeBatch parses batch bytes in JSON or YAML form.
func DecodeBatch(data []byte, isYAML bool) (creative.RunRequest, error) {
	unmarshal := json.Unmarshal
	if isYAML {
		unmarshal = yaml.Unmarshal
	}

	var req creative.RunRequest
	if err := unmarshal(data, &req); err == nil {
		return req, nil
	}

	var ads []creative.AdRecord
	if err := unmarshal(data, &ads); err != nil {
		return creative.RunRequest{}, fmt.Errorf("parsing batch: %w", err)
	}
	return creative.RunRequest{Ads: ads}, nil
}
