package submissions

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a submission record
type Status string

const (
	StatusCreated        Status = "created"
	StatusScoring        Status = "scoring"
	StatusScoreFailed    Status = "score_failed"
	StatusScored         Status = "scored"
	StatusMinting        Status = "minting"
	StatusMinted         Status = "minted"
	StatusMintFailed     Status = "mint_failed"
	StatusFlagged        Status = "flagged"
	StatusOverrideMinted Status = "override_minted"
)

// IsTerminal reports whether the pipeline stops at this state
func (s Status) IsTerminal() bool {
	switch s {
	case StatusMinted, StatusMintFailed, StatusFlagged, StatusScoreFailed, StatusOverrideMinted:
		return true
	}
	return false
}

// Submission is the durable record of one project's verification request.
// JSON field names match the records the dashboard and reporting tools read.
type Submission struct {
	ProjectID          string  `json:"projectId"`
	Name               string  `json:"name"`
	Location           string  `json:"location"`
	EnergyGeneratedKwh float64 `json:"energy_generated_kwh"`
	WeatherScore       float64 `json:"weather_score"`
	GridEmissionFactor float64 `json:"grid_emission_factor"`
	OwnerAddress       string  `json:"ownerAddress"`
	ContentRef         string  `json:"ipfsHash,omitempty"`

	Status     Status   `json:"status"`
	Scoring    *Scoring `json:"ml,omitempty"`
	ScoreError string   `json:"mlError,omitempty"`
	Minting    Minting  `json:"minted"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Scoring holds the output of the external scoring service
type Scoring struct {
	Raw               json.RawMessage `json:"raw,omitempty"`
	FraudScorePercent float64         `json:"fraud_score_percent"`
	PredictedCO2Tons  float64         `json:"predicted_co2_tons"`
	ScoredAt          time.Time       `json:"scoredAt"`
}

// Minting describes the mint outcome recorded on a submission.
// OK with empty Override* fields is a pipeline mint; OK with OverrideBy set
// is an administrative override.
type Minting struct {
	OK           bool       `json:"ok"`
	Flagged      bool       `json:"flagged,omitempty"`
	TokensMinted int64      `json:"tokensMinted,omitempty"`
	TxHash       string     `json:"txHash,omitempty"`
	BlockNumber  uint64     `json:"blockNumber,omitempty"`
	MintedAt     *time.Time `json:"mintedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	ReceiptCID   string     `json:"receiptCid,omitempty"`

	OverrideBy   string     `json:"overrideBy,omitempty"`
	OverrideNote string     `json:"overrideNote,omitempty"`
	OverrideAt   *time.Time `json:"overrideAt,omitempty"`

	// Previous keeps earlier attempts an override replaced: forced-over
	// receipts and broadcast but unconfirmed transactions
	Previous []Minting `json:"previous,omitempty"`
}

// Input is an inbound project submission before validation
type Input struct {
	ProjectID          string   `json:"projectId"`
	Name               string   `json:"name"`
	Location           string   `json:"location"`
	EnergyGeneratedKwh *float64 `json:"energy_generated_kwh"`
	WeatherScore       *float64 `json:"weather_score"`
	GridEmissionFactor *float64 `json:"grid_emission_factor"`
	OwnerAddress       string   `json:"ownerAddress"`
	ContentRef         string   `json:"ipfsHash,omitempty"`
}

// Result is the structured outcome of one pipeline run
type Result struct {
	ProjectID string   `json:"projectId"`
	Status    Status   `json:"status"`
	OK        bool     `json:"ok"`
	Flagged   bool     `json:"flagged,omitempty"`
	Error     string   `json:"error,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Scoring   *Scoring `json:"ml,omitempty"`
	Minting   *Minting `json:"minted,omitempty"`
}

// FraudScore returns the recorded fraud score, or 100 when scoring never succeeded
func (s *Submission) FraudScore() float64 {
	if s.Scoring == nil {
		return MaxFraudScore
	}
	return s.Scoring.FraudScorePercent
}

// MaxFraudScore is the fail-closed fraud score used when scoring is unavailable
const MaxFraudScore = 100.0
