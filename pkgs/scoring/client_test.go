package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

func testRequest() *Request {
	return &Request{ProjectID: "p1", EnergyGeneratedKwh: 1000, WeatherScore: 0.5, GridEmissionFactor: 0.7}
}

func TestScoreSendsSnakeCaseBody(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"project_id":"p1","predicted_co2_tons":1.2345,"fraud_score_percent":25,"meta":{"df_score":0.5}}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "p1", got["project_id"])
	assert.Equal(t, 1000.0, got["energy_generated_kwh"])
	assert.Equal(t, 0.5, got["weather_score"])
	assert.Equal(t, 0.7, got["grid_emission_factor"])

	assert.Equal(t, 25.0, res.FraudScorePercent)
	assert.Equal(t, 1.2345, res.PredictedCO2Tons)
	assert.Contains(t, string(res.Raw), "df_score")
}

func TestScoreNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	assert.ErrorIs(t, err, submissions.ErrScoringFailed)
}

func TestScoreTimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(srv.URL, 50*time.Millisecond).Score(context.Background(), testRequest())
	require.Error(t, err)

	var failure *submissions.ScoringFailure
	assert.ErrorAs(t, err, &failure)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestScoreUnreachableIsFailure(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1/predict", time.Second).Score(context.Background(), testRequest())
	assert.ErrorIs(t, err, submissions.ErrScoringFailed)
}

func TestScoreMalformedBodyIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	assert.ErrorIs(t, err, submissions.ErrScoringFailed)
}

func TestParseDefaults(t *testing.T) {
	res, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.FraudScorePercent, "missing fraud score fails closed")
	assert.Equal(t, 0.0, res.PredictedCO2Tons)
	assert.Equal(t, `{}`, string(res.Raw))
}

func TestParseFallsBackToFraudScore(t *testing.T) {
	res, err := Parse([]byte(`{"fraud_score":12.5,"predicted_co2_tons":3}`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, res.FraudScorePercent)
	assert.Equal(t, 3.0, res.PredictedCO2Tons)
}

func TestParseKeepsExplicitZero(t *testing.T) {
	res, err := Parse([]byte(`{"fraud_score_percent":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.FraudScorePercent)
}

func TestParseClampsAndUsesRawField(t *testing.T) {
	res, err := Parse([]byte(`{"fraud_score_percent":140,"predicted_co2_tons":-2,"raw":{"model":"iso"}}`))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.FraudScorePercent)
	assert.Equal(t, 0.0, res.PredictedCO2Tons)
	assert.JSONEq(t, `{"model":"iso"}`, string(res.Raw))
}
