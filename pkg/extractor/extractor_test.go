package extractor

import "testing"

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name      string
		fieldName string
		value     string
		want      string
	}{
		{"address collapses newline", "Address", "123 1st Street\nSuite 4", "123 1st Street Suite 4"},
		{"ordinal preserved", "Address", "2nd Floor", "2nd Floor"},
		{"whitespace collapsed", "Name", "John   Doe", "John Doe"},
		{"trims surrounding whitespace", "Name", "  Jane Roe  ", "Jane Roe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeValue(tt.fieldName, tt.value); got != tt.want {
				t.Errorf("normalizeValue(%q, %q) = %q, want %q", tt.fieldName, tt.value, got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose wrapped", "Sure, here it is: {\"a\":1} thanks", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
