package template

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// buildWorkbook writes rows to a fresh in-memory xlsx workbook's default
// sheet and returns its bytes, mirroring the artifact a tenant would
// actually upload.
func buildWorkbook(t *testing.T, rows [][]string) *bytes.Reader {
	t.Helper()
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	for r, row := range rows {
		for c, cell := range row {
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName: %v", err)
			}
			if err := wb.SetCellValue(sheet, ref, cell); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if _, err := wb.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestParse_WithHeaderAndAliases(t *testing.T) {
	rows := [][]string{
		{"canonical_name", "aliases", "required"},
		{"Patient Name", "Name|Full Name", "true"},
		{"DOB", "Date of Birth|Birth Date", "true"},
		{"Insurance ID", "Policy|Policy Number", "false"},
	}

	tmpl, err := Parse(buildWorkbook(t, rows), "t1", "intake-v1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tmpl.Fields) != 3 {
		t.Fatalf("len(Fields) = %d, want 3", len(tmpl.Fields))
	}
	if tmpl.Fields[1].CanonicalName != "DOB" {
		t.Errorf("Fields[1].CanonicalName = %q, want DOB", tmpl.Fields[1].CanonicalName)
	}
	if !tmpl.Fields[0].Required {
		t.Error("Fields[0].Required = false, want true")
	}
}

func TestParse_NoHeader(t *testing.T) {
	rows := [][]string{{"Name"}, {"Address"}}
	tmpl, err := Parse(buildWorkbook(t, rows), "t1", "bare")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tmpl.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(tmpl.Fields))
	}
}

func TestParse_EmptyIsError(t *testing.T) {
	if _, err := Parse(buildWorkbook(t, nil), "t1", "empty"); err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestParse_NotAWorkbookIsError(t *testing.T) {
	if _, err := Parse(bytes.NewReader([]byte("canonical_name,aliases\nName,Full Name\n")), "t1", "bogus"); err == nil {
		t.Fatal("expected error for a non-xlsx upload")
	}
}

func TestApply_AliasAndCaseInsensitiveMatching(t *testing.T) {
	rows := [][]string{
		{"canonical_name", "aliases"},
		{"Patient Name", "Name"},
		{"DOB", "Date of Birth|Birth Date"},
		{"Insurance ID", "Policy"},
	}
	tmpl, err := Parse(buildWorkbook(t, rows), "t1", "intake-v1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	extracted := map[string]string{
		"Name":       "Jane Roe",
		"Birth Date": "1980-05-05",
		"Policy":     "X7",
	}
	confidences := map[string]float64{
		"Name":       0.9,
		"Birth Date": 0.8,
		"Policy":     0.7,
	}

	mapping := Apply(tmpl, extracted, confidences)
	if mapping.MappedValues["Patient Name"] != "Jane Roe" {
		t.Errorf("Patient Name = %q, want Jane Roe", mapping.MappedValues["Patient Name"])
	}
	if mapping.MappedValues["DOB"] != "1980-05-05" {
		t.Errorf("DOB = %q, want 1980-05-05", mapping.MappedValues["DOB"])
	}
	if mapping.MappedValues["Insurance ID"] != "X7" {
		t.Errorf("Insurance ID = %q, want X7", mapping.MappedValues["Insurance ID"])
	}
	if len(mapping.UnmappedExtractedKeys) != 0 {
		t.Errorf("UnmappedExtractedKeys = %v, want empty", mapping.UnmappedExtractedKeys)
	}
}

func TestApply_UnmappedKeys(t *testing.T) {
	rows := [][]string{{"canonical_name", "aliases"}, {"Patient Name", "Name"}}
	tmpl, err := Parse(buildWorkbook(t, rows), "t1", "intake-v1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	mapping := Apply(tmpl, map[string]string{"Unrelated Field": "x"}, map[string]float64{"Unrelated Field": 0.5})
	if len(mapping.UnmappedExtractedKeys) != 1 || mapping.UnmappedExtractedKeys[0] != "Unrelated Field" {
		t.Errorf("UnmappedExtractedKeys = %v, want [Unrelated Field]", mapping.UnmappedExtractedKeys)
	}
}

func TestApply_TieBreaksOnHigherConfidence(t *testing.T) {
	rows := [][]string{{"canonical_name", "aliases"}, {"Name", "Patient Name|Full Name"}}
	tmpl, _ := Parse(buildWorkbook(t, rows), "t1", "intake-v1")

	extracted := map[string]string{"Patient Name": "low", "Full Name": "high"}
	confidences := map[string]float64{"Patient Name": 0.4, "Full Name": 0.9}

	mapping := Apply(tmpl, extracted, confidences)
	if mapping.MappedValues["Name"] != "high" {
		t.Errorf("Name = %q, want high (higher confidence should win)", mapping.MappedValues["Name"])
	}
}
