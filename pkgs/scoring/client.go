package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	// DefaultTimeout bounds a single scoring call
	DefaultTimeout = 20 * time.Second

	maxResponseBytes = 1 << 20
)

// Request is the scoring payload, in the snake_case shape the model service expects
type Request struct {
	ProjectID          string  `json:"project_id"`
	EnergyGeneratedKwh float64 `json:"energy_generated_kwh"`
	WeatherScore       float64 `json:"weather_score"`
	GridEmissionFactor float64 `json:"grid_emission_factor"`
}

// Result is a normalized scoring response
type Result struct {
	FraudScorePercent float64
	PredictedCO2Tons  float64
	Raw               json.RawMessage
}

// Scorer obtains a fraud score and offset estimate for a project
type Scorer interface {
	Score(ctx context.Context, req *Request) (*Result, error)
}

// response fields are pointers so omitted values can be told apart from zero
type response struct {
	FraudScorePercent *float64        `json:"fraud_score_percent"`
	FraudScore        *float64        `json:"fraud_score"`
	PredictedCO2Tons  *float64        `json:"predicted_co2_tons"`
	Raw               json.RawMessage `json:"raw"`
}

// Client calls the remote scoring service over HTTP
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a scoring client for the given predict endpoint
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     url,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Score posts the project metrics and returns the normalized result. Every
// failure, including timeout and non-2xx status, is a *submissions.ScoringFailure.
func (c *Client) Score(ctx context.Context, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &submissions.ScoringFailure{Cause: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &submissions.ScoringFailure{Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &submissions.ScoringFailure{Cause: fmt.Errorf("failed to call scoring service: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &submissions.ScoringFailure{Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &submissions.ScoringFailure{Cause: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	result, err := Parse(data)
	if err != nil {
		return nil, &submissions.ScoringFailure{Cause: err}
	}

	log.WithFields(log.Fields{
		"project_id":  req.ProjectID,
		"fraud_score": result.FraudScorePercent,
		"co2_tons":    result.PredictedCO2Tons,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Scoring response received")

	return result, nil
}

// Parse normalizes a scoring response body. A missing fraud score is taken
// as the maximum risk so incomplete answers go to review, never to minting.
func Parse(data []byte) (*Result, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	fraud := submissions.MaxFraudScore
	switch {
	case r.FraudScorePercent != nil:
		fraud = *r.FraudScorePercent
	case r.FraudScore != nil:
		fraud = *r.FraudScore
	}
	if math.IsNaN(fraud) {
		fraud = submissions.MaxFraudScore
	}
	fraud = math.Min(math.Max(fraud, 0), submissions.MaxFraudScore)

	offset := 0.0
	if r.PredictedCO2Tons != nil && !math.IsNaN(*r.PredictedCO2Tons) && !math.IsInf(*r.PredictedCO2Tons, 0) {
		offset = math.Max(*r.PredictedCO2Tons, 0)
	}

	raw := r.Raw
	if len(raw) == 0 || string(raw) == "null" {
		raw = append(json.RawMessage(nil), data...)
	}

	return &Result{
		FraudScorePercent: fraud,
		PredictedCO2Tons:  offset,
		Raw:               raw,
	}, nil
}
