// Package ocrprovider implements the OCR Provider contract (C3): a pure
// capability call that turns raw document bytes into recognized text,
// wrapped in a circuit breaker and an exponential-backoff retry for the
// OCR_TRANSIENT error kind.
package ocrprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
)

// Provider is the OCR capability contract.
type Provider interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*docmodel.OCRResult, error)
}

// HTTPProvider calls an external OCR REST endpoint, retrying
// OCR_TRANSIENT failures up to 3 times with exponential backoff
// (250ms, 1s, 4s) before surfacing OCR_UNAVAILABLE.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPProvider constructs an HTTPProvider calling endpoint, guarded
// by a circuit breaker named "ocr".
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ocr",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithComponent("ocrprovider").Warn().
					Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

type ocrRequest struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type ocrResponse struct {
	Pages int `json:"pages"`
	Lines []struct {
		Text       string     `json:"text"`
		BBox       [4]float64 `json:"bbox"`
		Confidence float64    `json:"confidence"`
	} `json:"lines"`
	Words []struct {
		Text       string     `json:"text"`
		BBox       [4]float64 `json:"bbox"`
		Confidence float64    `json:"confidence"`
	} `json:"words"`
}

// Extract calls the OCR endpoint, retrying transient failures through
// the circuit breaker before surfacing OCR_UNAVAILABLE.
func (p *HTTPProvider) Extract(ctx context.Context, data []byte, mimeType string) (*docmodel.OCRResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.OCRCallDuration)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.Multiplier = 4
	policy.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(policy, 3) // 4 total attempts

	var result *docmodel.OCRResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		out, breakerErr := p.breaker.Execute(func() (interface{}, error) {
			return p.call(ctx, data, mimeType)
		})
		if breakerErr == nil {
			result = out.(*docmodel.OCRResult)
			return nil
		}
		if attempt > 1 {
			metrics.OCRRetriesTotal.Inc()
		}
		if isTransient(breakerErr) {
			return breakerErr
		}
		return backoff.Permanent(breakerErr)
	}, retrier)

	if err == nil {
		return result, nil
	}
	if isTransient(err) {
		return nil, apierrors.New(apierrors.OCRUnavailable, "OCR provider unavailable after retries", err)
	}
	return nil, apierrors.New(apierrors.OCRUnavailable, "OCR provider call failed", err)
}

func (p *HTTPProvider) call(ctx context.Context, data []byte, mimeType string) (*docmodel.OCRResult, error) {
	payload, err := json.Marshal(ocrRequest{MimeType: mimeType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, transientErr{fmt.Errorf("OCR provider returned %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR provider returned %d: %s", resp.StatusCode, body)
	}

	var decoded ocrResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}

	result := &docmodel.OCRResult{Pages: decoded.Pages}
	var sum float64
	var nonEmpty int
	for _, l := range decoded.Lines {
		result.Lines = append(result.Lines, docmodel.OCRLine{Text: l.Text, BBox: l.BBox, Confidence: l.Confidence})
		if l.Text != "" {
			sum += l.Confidence
			nonEmpty++
		}
	}
	for _, w := range decoded.Words {
		result.Words = append(result.Words, docmodel.OCRWord{Text: w.Text, BBox: w.BBox, Confidence: w.Confidence})
	}
	if nonEmpty > 0 {
		result.Confidence = sum / float64(nonEmpty)
	}
	return result, nil
}

type transientErr struct{ error }

func isTransient(err error) bool {
	_, ok := err.(transientErr)
	if ok {
		return true
	}
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
