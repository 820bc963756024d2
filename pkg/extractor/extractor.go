// Package extractor implements the Extractor (C4): an LLM-driven
// key/value extractor with free-form, template-guided, and low-confidence
// vision-reanalysis modes, backed by anthropic-sdk-go.
package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
)

// FreeFormResult is the output of free-form extraction.
type FreeFormResult struct {
	KVPairs        map[string]string
	KVConfidences  map[string]float64
	Classification docmodel.Classification
	Summary        string
}

// Extractor is the LLM-driven extraction capability.
type Extractor interface {
	// ExtractFreeForm extracts an open key/value mapping plus a
	// classification from an OCR result.
	ExtractFreeForm(ctx context.Context, ocr *docmodel.OCRResult) (*FreeFormResult, error)

	// ExtractTemplateGuided extracts values keyed by the template's
	// canonical field names directly, returning any extracted keys the
	// model could not map.
	ExtractTemplateGuided(ctx context.Context, ocr *docmodel.OCRResult, tmpl *docmodel.Template) (kvPairs map[string]string, kvConfidences map[string]float64, unmappedKeys []string, err error)

	// Reanalyze re-runs a vision-aware pass against only the given
	// fields, using the original source bytes.
	Reanalyze(ctx context.Context, sourceBytes []byte, mimeType string, fields []docmodel.LowConfidenceField) ([]docmodel.ReanalysisResult, error)
}

// AnthropicExtractor implements Extractor via anthropic-sdk-go, wrapped
// in a circuit breaker and retry for transient upstream failures.
type AnthropicExtractor struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicExtractor constructs an AnthropicExtractor. apiKey may be
// empty to use the ANTHROPIC_API_KEY environment variable, per the SDK's
// default option resolution.
func NewAnthropicExtractor(apiKey string) *AnthropicExtractor {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicExtractor{
		client: anthropic.NewClient(opts...),
		model:  anthropic.ModelClaude3_5SonnetLatest,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "extractor",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithComponent("extractor").Warn().
					Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

const freeFormSystemPrompt = `You extract structured key/value data from OCR text of scanned medical, insurance, invoice and referral documents. Respond with a single JSON object: {"classification": "Medical|Invoice|Insurance|Referral|Other", "summary": "...", "fields": [{"key": "...", "value": "...", "confidence": 0.0-1.0}]}. Do not include any prose outside the JSON object.`

type freeFormResponse struct {
	Classification string `json:"classification"`
	Summary        string `json:"summary"`
	Fields         []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"fields"`
}

func (e *AnthropicExtractor) ExtractFreeForm(ctx context.Context, ocr *docmodel.OCRResult) (*FreeFormResult, error) {
	text := ocrText(ocr)
	raw, err := e.call(ctx, freeFormSystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var decoded freeFormResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		metrics.ExtractFallbacksTotal.Inc()
		return &FreeFormResult{
			KVPairs:        map[string]string{},
			KVConfidences:  map[string]float64{},
			Classification: docmodel.ClassificationOther,
		}, apierrors.New(apierrors.ExtractFail, "failed to decode extractor response", err)
	}

	result := &FreeFormResult{
		KVPairs:        map[string]string{},
		KVConfidences:  map[string]float64{},
		Classification: docmodel.Classification(decoded.Classification),
		Summary:        decoded.Summary,
	}
	if result.Classification == "" {
		result.Classification = docmodel.ClassificationOther
	}

	seen := map[string]string{} // lowercase key -> the winning key as emitted
	for _, f := range decoded.Fields {
		key := canonicalKey(f.Key)
		value := normalizeValue(key, f.Value)
		lower := strings.ToLower(key)

		if winner, ok := seen[lower]; ok {
			if result.KVConfidences[winner] >= f.Confidence {
				continue
			}
			delete(result.KVPairs, winner)
			delete(result.KVConfidences, winner)
		}
		seen[lower] = key
		result.KVPairs[key] = value
		result.KVConfidences[key] = f.Confidence
	}

	return result, nil
}

const templateSystemPromptFmt = `You extract structured key/value data from OCR text and must map every value onto exactly one of these canonical fields when possible: %s. Respond with a single JSON object: {"mapped": [{"canonical": "...", "value": "...", "confidence": 0.0-1.0}], "unmapped": [{"key": "...", "value": "..."}]}. Do not include prose outside the JSON object.`

type templateResponse struct {
	Mapped []struct {
		Canonical  string  `json:"canonical"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"mapped"`
	Unmapped []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"unmapped"`
}

func (e *AnthropicExtractor) ExtractTemplateGuided(ctx context.Context, ocr *docmodel.OCRResult, tmpl *docmodel.Template) (map[string]string, map[string]float64, []string, error) {
	names := make([]string, 0, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		names = append(names, f.CanonicalName)
	}
	systemPrompt := fmt.Sprintf(templateSystemPromptFmt, strings.Join(names, ", "))

	raw, err := e.call(ctx, systemPrompt, ocrText(ocr))
	if err != nil {
		return nil, nil, nil, err
	}

	var decoded templateResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		metrics.ExtractFallbacksTotal.Inc()
		return map[string]string{}, map[string]float64{}, nil, apierrors.New(apierrors.ExtractFail, "failed to decode template-guided response", err)
	}

	kvPairs := make(map[string]string, len(decoded.Mapped))
	kvConfidences := make(map[string]float64, len(decoded.Mapped))
	for _, m := range decoded.Mapped {
		kvPairs[m.Canonical] = normalizeValue(m.Canonical, m.Value)
		kvConfidences[m.Canonical] = m.Confidence
	}

	unmapped := make([]string, 0, len(decoded.Unmapped))
	for _, u := range decoded.Unmapped {
		unmapped = append(unmapped, u.Key)
	}

	return kvPairs, kvConfidences, unmapped, nil
}

const reanalysisSystemPrompt = `You are re-examining a scanned document image to verify a small set of low-confidence extracted fields. For each field given, respond whether the original value is correct, incorrect, incomplete, or missing from the document, and suggest a corrected value when applicable. Respond with a single JSON object: {"results": [{"field": "...", "status": "correct|incorrect|incomplete|missing", "suggested_value": "...", "issues": ["..."], "explanation": "..."}]}.`

type reanalysisResponse struct {
	Results []struct {
		Field          string   `json:"field"`
		Status         string   `json:"status"`
		SuggestedValue string   `json:"suggested_value"`
		Issues         []string `json:"issues"`
		Explanation    string   `json:"explanation"`
	} `json:"results"`
}

func (e *AnthropicExtractor) Reanalyze(ctx context.Context, sourceBytes []byte, mimeType string, fields []docmodel.LowConfidenceField) ([]docmodel.ReanalysisResult, error) {
	var sb strings.Builder
	sb.WriteString("Fields to verify:\n")
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s: %q (confidence %.2f)\n", f.Name, f.Value, f.Confidence)
	}

	raw, err := e.callWithImage(ctx, reanalysisSystemPrompt, sb.String(), sourceBytes, mimeType)
	if err != nil {
		return nil, err
	}

	var decoded reanalysisResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, apierrors.New(apierrors.ExtractFail, "failed to decode reanalysis response", err)
	}

	results := make([]docmodel.ReanalysisResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, docmodel.ReanalysisResult{
			FieldName:      r.Field,
			Status:         docmodel.ReanalysisStatus(r.Status),
			SuggestedValue: r.SuggestedValue,
			Issues:         r.Issues,
			Explanation:    r.Explanation,
		})
	}
	return results, nil
}

func (e *AnthropicExtractor) call(ctx context.Context, systemPrompt, userContent string) (string, error) {
	return e.callWithImage(ctx, systemPrompt, userContent, nil, "")
}

func (e *AnthropicExtractor) callWithImage(ctx context.Context, systemPrompt, userContent string, imageBytes []byte, mimeType string) (string, error) {
	timer := metrics.NewTimer()
	mode := "text"
	if len(imageBytes) > 0 {
		mode = "vision"
	}
	defer timer.ObserveDurationVec(metrics.ExtractorCallDuration, mode)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.Multiplier = 4
	policy.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(policy, 2)

	var result string
	err := backoff.Retry(func() error {
		out, breakerErr := e.breaker.Execute(func() (interface{}, error) {
			return e.doCall(ctx, systemPrompt, userContent, imageBytes, mimeType)
		})
		if breakerErr == nil {
			result = out.(string)
			return nil
		}
		if breakerErr == gobreaker.ErrOpenState || breakerErr == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(breakerErr)
		}
		return breakerErr
	}, retrier)
	if err != nil {
		return "", apierrors.New(apierrors.ExtractFail, "extractor call failed", err)
	}
	return result, nil
}

func (e *AnthropicExtractor) doCall(ctx context.Context, systemPrompt, userContent string, imageBytes []byte, mimeType string) (string, error) {
	blocks := []anthropic.ContentBlockParamUnion{}
	if len(imageBytes) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(imageBytes)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(userContent))

	message, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return extractJSON(sb.String()), nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the first JSON object out of a model response that
// may be wrapped in markdown fences or commentary despite instructions.
func extractJSON(s string) string {
	if match := jsonObjectPattern.FindString(s); match != "" {
		return match
	}
	return s
}

func ocrText(ocr *docmodel.OCRResult) string {
	var sb strings.Builder
	for _, line := range ocr.Lines {
		sb.WriteString(line.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func canonicalKey(key string) string {
	return strings.TrimSpace(key)
}

var addressFieldPattern = regexp.MustCompile(`(?i)address`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeValue applies the deterministic address formatting rule: a
// field semantically denoting an address is collapsed to a single line,
// ordinals preserved verbatim, superfluous whitespace collapsed.
func normalizeValue(fieldName, value string) string {
	value = whitespacePattern.ReplaceAllString(strings.TrimSpace(value), " ")
	if addressFieldPattern.MatchString(fieldName) {
		value = strings.ReplaceAll(value, "\n", " ")
	}
	return value
}
