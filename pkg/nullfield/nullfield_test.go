package nullfield

import (
	"reflect"
	"sort"
	"testing"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

func TestTrack_MissingFields(t *testing.T) {
	record := &docmodel.ProcessedRecord{
		ProcessingID: "proc-1",
		TenantID:     "t1",
		Filename:     "referral.pdf",
		KVPairs: map[string]string{
			"Name":          "John Doe",
			"Date of Birth": "1970-01-02",
			"Member ID":     "M123",
		},
	}

	nf := Track(record)

	want := []string{"Address", "Gender", "Insurance ID"}
	got := append([]string{}, nf.NullFieldNames...)
	sort.Strings(got)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NullFieldNames = %v, want %v", got, want)
	}
}

func TestTrack_TreatsPlaceholdersAsEmpty(t *testing.T) {
	record := &docmodel.ProcessedRecord{
		KVPairs: map[string]string{
			"Name":          "N/A",
			"Date of Birth": "  ",
			"Member ID":     "None",
			"Address":       "123 Main St",
			"Gender":        "M",
			"Insurance ID":  "I1",
		},
	}
	nf := Track(record)
	want := []string{"Date of Birth", "Member ID", "Name"}
	got := append([]string{}, nf.NullFieldNames...)
	sort.Strings(got)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NullFieldNames = %v, want %v", got, want)
	}
}

func TestTrack_UsesTemplateMappingWhenPresent(t *testing.T) {
	record := &docmodel.ProcessedRecord{
		KVPairs: map[string]string{"unrelated key": "value"},
		TemplateMapping: &docmodel.TemplateMapping{
			MappedValues: map[string]string{
				"Name":          "Jane Roe",
				"Date of Birth": "1980-05-05",
				"Member ID":     "M1",
				"Address":       "1 Elm St",
				"Gender":        "F",
				"Insurance ID":  "I2",
			},
		},
	}
	nf := Track(record)
	if len(nf.NullFieldNames) != 0 {
		t.Errorf("NullFieldNames = %v, want empty", nf.NullFieldNames)
	}
}
