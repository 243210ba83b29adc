package scanner

import (
	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// Image is a caller-supplied buffer to scan as if loaded at Base.
type Image struct {
	Name string        `json:"name"`
	Base types.Address `json:"base"`
	Data []byte        `json:"-"`
}

// ScanResult represents scan results for a single image.
type ScanResult struct {
	Name    string                `json:"name"`
	ImageID types.ImageID         `json:"image_id"`
	Matches []*types.Match        `json:"matches"`
	Summary matcher.ResultSummary `json:"summary"`
}

// BatchScanResult represents batch scan results.
type BatchScanResult struct {
	Results []ScanResult `json:"results"`
	Total   int          `json:"total"`
}
