// Package nullfield implements the null-field tracker: given a completed
// ProcessedRecord, it records which of the fixed required fields were
// missing or effectively empty, for downstream QA.
package nullfield

import (
	"strings"
	"time"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

var emptyValues = map[string]bool{
	"":         true,
	"none":     true,
	"n/a":      true,
	"na":       true,
	"null":     true,
	"unknown":  true,
}

func isEmpty(value string) bool {
	trimmed := strings.TrimSpace(value)
	return emptyValues[strings.ToLower(trimmed)]
}

// Track builds the NullFieldRecord for a completed record, checking
// docmodel.RequiredFields against the record's kv_pairs (or, when a
// template mapping is present, its mapped_values — the canonical field
// space the template defines).
func Track(record *docmodel.ProcessedRecord) *docmodel.NullFieldRecord {
	fields := record.KVPairs
	if record.TemplateMapping != nil {
		fields = record.TemplateMapping.MappedValues
	}

	var missing []string
	for _, required := range docmodel.RequiredFields {
		value, ok := lookupCaseInsensitive(fields, required)
		if !ok || isEmpty(value) {
			missing = append(missing, required)
		}
	}

	return &docmodel.NullFieldRecord{
		ProcessingID:       record.ProcessingID,
		TenantID:           record.TenantID,
		Filename:           record.Filename,
		NullFieldNames:     missing,
		AllExtractedFields: fields,
		CreatedAt:          time.Now(),
	}
}

func lookupCaseInsensitive(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	for k, v := range fields {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return "", false
}
