package submissions

import (
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReferenceValidator checks a content reference, returning an error if malformed
type ReferenceValidator func(ref string) error

// Validate checks the required fields of an inbound submission and builds
// the initial record in state created. Fields are checked in the order the
// submit form lists them so the first missing one is reported.
func Validate(in *Input, checkRef ReferenceValidator, now time.Time) (*Submission, error) {
	if in == nil {
		return nil, Missing("projectId")
	}

	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return nil, Missing("projectId")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, Missing("name")
	}
	if strings.TrimSpace(in.Location) == "" {
		return nil, Missing("location")
	}
	if in.EnergyGeneratedKwh == nil {
		return nil, Missing("energy_generated_kwh")
	}
	if in.WeatherScore == nil {
		return nil, Missing("weather_score")
	}
	if in.GridEmissionFactor == nil {
		return nil, Missing("grid_emission_factor")
	}
	owner := strings.TrimSpace(in.OwnerAddress)
	if owner == "" {
		return nil, Missing("ownerAddress")
	}

	if !finite(*in.EnergyGeneratedKwh) || *in.EnergyGeneratedKwh < 0 {
		return nil, Invalid("energy_generated_kwh", "must be a non-negative number")
	}
	if !finite(*in.WeatherScore) {
		return nil, Invalid("weather_score", "must be a number")
	}
	if !finite(*in.GridEmissionFactor) {
		return nil, Invalid("grid_emission_factor", "must be a number")
	}
	if !common.IsHexAddress(owner) {
		return nil, Invalid("ownerAddress", "not a hex chain address")
	}

	ref := strings.TrimSpace(in.ContentRef)
	if ref != "" && checkRef != nil {
		if err := checkRef(ref); err != nil {
			return nil, Invalid("ipfsHash", err.Error())
		}
	}

	now = now.UTC()
	return &Submission{
		ProjectID:          projectID,
		Name:               strings.TrimSpace(in.Name),
		Location:           strings.TrimSpace(in.Location),
		EnergyGeneratedKwh: *in.EnergyGeneratedKwh,
		WeatherScore:       *in.WeatherScore,
		GridEmissionFactor: *in.GridEmissionFactor,
		OwnerAddress:       common.HexToAddress(owner).Hex(),
		ContentRef:         ref,
		Status:             StatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
