// Package template implements the Template Registry (C5): parsing an
// uploaded xlsx field-schema workbook and reconciling arbitrary extracted
// keys against its canonical fields.
package template

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

// Parse reads a tenant-uploaded xlsx template workbook (stored bit-exact
// at templates/{tenant_id}/{template_id}/template.xlsx per spec.md §4.1)
// from its first sheet: header row "canonical_name,aliases,required",
// aliases pipe-separated. The first-column heuristic also accepts a
// header-less sheet where each row is just a canonical name.
func Parse(r io.Reader, tenantID, name string) (*docmodel.Template, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open template workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("template workbook has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read template sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("template has no rows")
	}

	start := 0
	if isHeaderRow(rows[0]) {
		start = 1
	}

	seen := map[string]bool{}
	var fields []docmodel.TemplateField
	for _, row := range rows[start:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		canonical := strings.TrimSpace(row[0])
		key := strings.ToLower(canonical)
		if seen[key] {
			continue
		}
		seen[key] = true

		var aliases []string
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			for _, a := range strings.Split(row[1], "|") {
				a = strings.TrimSpace(a)
				if a != "" {
					aliases = append(aliases, a)
				}
			}
		}

		required := false
		if len(row) > 2 {
			required = strings.EqualFold(strings.TrimSpace(row[2]), "true") || strings.TrimSpace(row[2]) == "1"
		}

		fields = append(fields, docmodel.TemplateField{
			CanonicalName: canonical,
			Aliases:       aliases,
			Required:      required,
		})
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("template has no usable fields")
	}

	return &docmodel.Template{
		TemplateID: uuid.NewString(),
		TenantID:   tenantID,
		Name:       name,
		Fields:     fields,
		CreatedAt:  time.Now(),
	}, nil
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(row[0]))
	return first == "canonical_name" || first == "field"
}

// lookup maps every alias and the canonical name itself (lowercased) to
// the field's canonical name, for O(1) case-insensitive matching.
func lookup(tmpl *docmodel.Template) map[string]string {
	index := make(map[string]string, len(tmpl.Fields)*2)
	for _, f := range tmpl.Fields {
		index[strings.ToLower(f.CanonicalName)] = f.CanonicalName
		for _, alias := range f.Aliases {
			index[strings.ToLower(alias)] = f.CanonicalName
		}
	}
	return index
}

// Apply reconciles extracted keys against a template's canonical fields
// using case-insensitive and alias-aware matching. When two extracted
// keys map to the same canonical field, the higher-confidence value
// wins.
func Apply(tmpl *docmodel.Template, extractedKV map[string]string, extractedConfidences map[string]float64) *docmodel.TemplateMapping {
	index := lookup(tmpl)

	mapping := &docmodel.TemplateMapping{
		TemplateID:       tmpl.TemplateID,
		MappedValues:     map[string]string{},
		FieldConfidences: map[string]float64{},
		ProcessedAt:      time.Now(),
	}

	for key, value := range extractedKV {
		canonical, ok := index[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			mapping.UnmappedExtractedKeys = append(mapping.UnmappedExtractedKeys, key)
			continue
		}
		confidence := extractedConfidences[key]
		if existing, ok := mapping.FieldConfidences[canonical]; ok && existing >= confidence {
			continue
		}
		mapping.MappedValues[canonical] = value
		mapping.FieldConfidences[canonical] = confidence
	}

	return mapping
}
