package orchestrator

import (
	"encoding/json"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

// processedPayload is the on-disk shape of the processed-JSON object
// written alongside the relocated source.
type processedPayload struct {
	ContentHash       string             `json:"content_hash"`
	ProcessingID      string             `json:"processing_id"`
	TenantID          string             `json:"tenant_id"`
	Filename          string             `json:"filename"`
	KVPairs           map[string]string  `json:"kv_pairs"`
	KVConfidences     map[string]float64 `json:"kv_confidences"`
	OCRConfidence     float64            `json:"ocr_confidence"`
	OverallConfidence float64            `json:"overall_confidence"`
	Classification    string             `json:"classification"`
	TemplateID        string             `json:"template_id,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

// recordJSON serializes a ProcessedRecord into its processed-JSON
// on-disk representation. Marshal cannot fail for this shape (no
// channels, funcs, or cyclic types), so the error is discarded.
func recordJSON(record *docmodel.ProcessedRecord) []byte {
	payload := processedPayload{
		ContentHash:       record.ContentHash,
		ProcessingID:      record.ProcessingID,
		TenantID:          record.TenantID,
		Filename:          record.Filename,
		KVPairs:           record.KVPairs,
		KVConfidences:     record.KVConfidences,
		OCRConfidence:     record.OCRConfidence,
		OverallConfidence: record.OverallConfidence,
		Classification:    string(record.Classification),
		TemplateID:        record.TemplateID,
		CreatedAt:         record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	data, _ := json.Marshal(payload)
	return data
}
