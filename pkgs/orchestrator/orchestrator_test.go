package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/decision"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/deduplication"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ledger"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/locks"
	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/scoring"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/store"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	owner     = "0x00000000000000000000000000000000000000aA"
	recipient = "0x00000000000000000000000000000000000000bB"
)

type fakeScorer struct {
	mu     sync.Mutex
	result *scoring.Result
	err    error
	calls  int

	// when set, Score signals on entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *fakeScorer) Score(ctx context.Context, req *scoring.Request) (*scoring.Result, error) {
	f.mu.Lock()
	f.calls++
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if f.err != nil {
		return nil, &submissions.ScoringFailure{Cause: f.err}
	}
	return f.result, nil
}

type mintCall struct {
	to         string
	amount     int64
	contentRef string
	status     submissions.Status
}

type fakeLedger struct {
	mu    sync.Mutex
	store store.Store
	calls []mintCall
	err   error
	seq   int
}

func (f *fakeLedger) Mint(ctx context.Context, to string, amount int64, contentRef string) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := mintCall{to: to, amount: amount, contentRef: contentRef}
	if f.store != nil {
		// observe what was persisted before the ledger was called
		subs, err := f.store.List(ctx, store.Filter{}, 10)
		if err == nil && len(subs) > 0 {
			call.status = subs[0].Status
		}
	}
	f.calls = append(f.calls, call)

	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	return &ledger.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", f.seq),
		BlockNumber: uint64(100 + f.seq),
		GasUsed:     51000,
		To:          to,
		Amount:      amount,
		ContentRef:  contentRef,
	}, nil
}

func (f *fakeLedger) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(4200), nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedEvent struct {
	eventType events.EventType
	operator  string
	projectID string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) EmitSubmission(eventType events.EventType, payload *events.SubmissionEventPayload, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: eventType, projectID: payload.ProjectID})
	return nil
}

func (f *fakeNotifier) EmitMint(eventType events.EventType, payload *events.MintEventPayload, operator string, mintErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: eventType, operator: operator, projectID: payload.ProjectID})
	return nil
}

func (f *fakeNotifier) types() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

type fakeArchiver struct {
	err  error
	docs []interface{}

	// stored records the Minting.OK of the record at archive time
	store  store.Store
	stored []bool
}

func (f *fakeArchiver) Archive(ctx context.Context, doc interface{}) (string, error) {
	if r, ok := doc.(*mintReceipt); ok && f.store != nil {
		if sub, err := f.store.Get(ctx, r.ProjectID); err == nil {
			f.stored = append(f.stored, sub.Minting.OK)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	f.docs = append(f.docs, doc)
	return "bafkreireceipt", nil
}

type harness struct {
	orch     *Orchestrator
	store    *store.RedisStore
	scorer   *fakeScorer
	ledger   *fakeLedger
	notifier *fakeNotifier
	archiver *fakeArchiver
	mr       *miniredis.Miniredis
	client   *redis.Client
	kb       *redislib.KeyBuilder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kb := redislib.NewKeyBuilder("test", "")
	st := store.NewRedisStore(client, kb)
	dedup, err := deduplication.NewDeduplicator(client, kb, 16, time.Hour)
	require.NoError(t, err)

	h := &harness{
		store: st,
		scorer: &fakeScorer{result: &scoring.Result{
			FraudScorePercent: 12,
			PredictedCO2Tons:  1.5,
			Raw:               json.RawMessage(`{"fraud_score_percent":12,"predicted_co2_tons":1.5}`),
		}},
		ledger:   &fakeLedger{store: st},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{store: st},
		mr:       mr,
		client:   client,
		kb:       kb,
	}

	h.orch, err = New(Deps{
		Store:      st,
		Scorer:     h.scorer,
		Decision:   decision.NewEngine(decision.Static(70)),
		Ledger:     h.ledger,
		Locker:     locks.NewRedisLocker(client, kb, time.Minute, 5*time.Second),
		Dedup:      dedup,
		Archiver:   h.archiver,
		Notifier:   h.notifier,
		TokenScale: 1000,
	})
	require.NoError(t, err)
	return h
}

func f64(v float64) *float64 { return &v }

func input(projectID string) *submissions.Input {
	return &submissions.Input{
		ProjectID:          projectID,
		Name:               "Kutch Wind Farm",
		Location:           "Gujarat",
		EnergyGeneratedKwh: f64(52000),
		WeatherScore:       f64(0.7),
		GridEmissionFactor: f64(0.82),
		OwnerAddress:       owner,
		ContentRef:         "bafkreidocs",
	}
}

func adminCtx() context.Context {
	return WithOperator(context.Background(), "admin")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestSubmitAcceptedIsMinted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, input("wind-1"))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.False(t, res.Flagged)
	assert.Equal(t, submissions.StatusMinted, res.Status)
	require.NotNil(t, res.Minting)
	assert.Equal(t, int64(1500), res.Minting.TokensMinted)
	assert.NotEmpty(t, res.Minting.TxHash)

	require.Len(t, h.ledger.calls, 1)
	call := h.ledger.calls[0]
	assert.Equal(t, int64(1500), call.amount)
	assert.Equal(t, "bafkreidocs", call.contentRef)
	assert.Equal(t, submissions.StatusMinting, call.status, "minting state must be persisted before the ledger call")

	rec, err := h.orch.Get(ctx, "wind-1")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMinted, rec.Status)
	require.NotNil(t, rec.Scoring)
	assert.Equal(t, 12.0, rec.Scoring.FraudScorePercent)
	assert.True(t, rec.Minting.OK)
	assert.Equal(t, "bafkreireceipt", rec.Minting.ReceiptCID)
	assert.NotNil(t, rec.Minting.MintedAt)

	assert.Equal(t, []events.EventType{
		events.EventSubmissionReceived,
		events.EventSubmissionScored,
		events.EventMinted,
	}, h.notifier.types())
}

func TestSubmitHighFraudIsFlagged(t *testing.T) {
	h := newHarness(t)
	h.scorer.result = &scoring.Result{FraudScorePercent: 80, PredictedCO2Tons: 3}
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, input("wind-2"))
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.True(t, res.Flagged)
	assert.Equal(t, submissions.StatusFlagged, res.Status)
	assert.Contains(t, res.Reason, "80.00")
	assert.Zero(t, h.ledger.callCount())

	flagged, err := h.orch.ListFlagged(ctx, nil)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "wind-2", flagged[0].ProjectID)
	assert.True(t, flagged[0].Minting.Flagged)
}

func TestSubmitAtThresholdIsFlagged(t *testing.T) {
	h := newHarness(t)
	h.scorer.result = &scoring.Result{FraudScorePercent: 70, PredictedCO2Tons: 3}

	res, err := h.orch.Submit(context.Background(), input("wind-edge"))
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Zero(t, h.ledger.callCount())
}

func TestSubmitScoringFailureIsHeldForReview(t *testing.T) {
	h := newHarness(t)
	h.scorer.err = errors.New("connection refused")
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, input("wind-3"))
	require.NoError(t, err)

	assert.True(t, res.Flagged)
	assert.False(t, res.OK)
	assert.Nil(t, res.Scoring)
	assert.Contains(t, res.Reason, "scoring unavailable")
	assert.Zero(t, h.ledger.callCount())

	rec, err := h.orch.Get(ctx, "wind-3")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusFlagged, rec.Status)
	assert.Nil(t, rec.Scoring)
	assert.Contains(t, rec.ScoreError, "connection refused")

	flagged, err := h.orch.ListFlagged(ctx, nil)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "wind-3", flagged[0].ProjectID)

	assert.Contains(t, h.notifier.types(), events.EventScoreFailed)
	assert.Contains(t, h.notifier.types(), events.EventSubmissionFlagged)
}

func TestSubmitLedgerFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.ledger.err = &submissions.MintFailure{Cause: errors.New("nonce too low")}
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, input("wind-4"))
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.False(t, res.Flagged)
	assert.Equal(t, submissions.StatusMintFailed, res.Status)
	assert.Contains(t, res.Error, "nonce too low")

	rec, err := h.orch.Get(ctx, "wind-4")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMintFailed, rec.Status)
	assert.Equal(t, int64(1500), rec.Minting.TokensMinted)
	assert.False(t, rec.Minting.OK)
	assert.Contains(t, rec.Minting.Error, "nonce too low")

	// a low score that failed to mint is not a review candidate
	flagged, err := h.orch.ListFlagged(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestSubmitUnconfiguredLedgerIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.ledger.err = submissions.ErrNotConfigured

	res, err := h.orch.Submit(context.Background(), input("wind-nc"))
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMintFailed, res.Status)
	assert.Contains(t, res.Error, "not configured")
}

func TestSubmitValidationPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := input("wind-5")
	in.WeatherScore = nil

	_, err := h.orch.Submit(ctx, in)
	var verr *submissions.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "weather_score", verr.Field)

	_, err = h.orch.Get(ctx, "wind-5")
	assert.ErrorIs(t, err, submissions.ErrNotFound)
	assert.Zero(t, h.scorer.calls)
}

func TestSubmitDuplicateProjectConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, input("wind-6"))
	require.NoError(t, err)

	_, err = h.orch.Submit(ctx, input("wind-6"))
	assert.ErrorIs(t, err, submissions.ErrConflict)
	assert.Equal(t, 1, h.ledger.callCount())
}

func TestSubmitStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	_, err := h.orch.Submit(context.Background(), input("wind-7"))
	assert.ErrorIs(t, err, submissions.ErrStoreUnavailable)
	assert.Zero(t, h.ledger.callCount())
}

func TestSubmitArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.archiver.err = errors.New("ipfs down")

	res, err := h.orch.Submit(context.Background(), input("wind-8"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Minting.ReceiptCID)
}

// flakyStore fails the nth Update call once
type flakyStore struct {
	store.Store
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyStore) Update(ctx context.Context, projectID string, mutate store.MutateFunc) (*submissions.Submission, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: connection reset", submissions.ErrStoreUnavailable)
	}
	return f.Store.Update(ctx, projectID, mutate)
}

func TestSubmitRetriesReceiptWrite(t *testing.T) {
	h := newHarness(t)
	// scoring, scored, minting, then the receipt
	h.orch.store = &flakyStore{Store: h.store, failOn: 4}

	res, err := h.orch.Submit(context.Background(), input("wind-9"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, h.ledger.callCount())

	rec, err := h.store.Get(context.Background(), "wind-9")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMinted, rec.Status)
	assert.NotEmpty(t, rec.Minting.TxHash)
}

func TestReceiptIsRecordedBeforeArchiving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, input("wind-11"))
	require.NoError(t, err)
	_, err = h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-11", To: recipient, Amount: 5, Force: true})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, true}, h.archiver.stored)
	rec, err := h.orch.Get(ctx, "wind-11")
	require.NoError(t, err)
	assert.Equal(t, "bafkreireceipt", rec.Minting.ReceiptCID)
}

func TestOverrideKeepsUnconfirmedAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.err = &submissions.MintFailure{Cause: errors.New("transaction not confirmed"), TxHash: "0xpending"}

	res, err := h.orch.Submit(ctx, input("wind-13"))
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMintFailed, res.Status)

	h.ledger.err = nil
	rec, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-13", To: recipient, Amount: 1500})
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusOverrideMinted, rec.Status)

	require.Len(t, rec.Minting.Previous, 1)
	prior := rec.Minting.Previous[0]
	assert.False(t, prior.OK)
	assert.Equal(t, "0xpending", prior.TxHash)
	assert.Contains(t, prior.Error, "not confirmed")
}

func TestSubmitLockedOutIsRecordedAsMintFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	holder := locks.NewRedisLocker(h.client, h.kb, time.Minute, time.Second)
	unlock, err := holder.Lock(ctx, "wind-10")
	require.NoError(t, err)
	defer unlock()
	h.orch.locker = locks.NewRedisLocker(h.client, h.kb, time.Minute, 100*time.Millisecond)

	res, err := h.orch.Submit(ctx, input("wind-10"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, submissions.StatusMintFailed, res.Status)
	assert.Contains(t, res.Error, "being processed")
	assert.Zero(t, h.ledger.callCount())

	rec, err := h.orch.Get(ctx, "wind-10")
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusMintFailed, rec.Status)
	require.NotNil(t, rec.Scoring)
}

func TestOverrideMintFlaggedSubmission(t *testing.T) {
	h := newHarness(t)
	h.scorer.result = &scoring.Result{FraudScorePercent: 95, PredictedCO2Tons: 2}
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, input("wind-9"))
	require.NoError(t, err)

	rec, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{
		ProjectID: "wind-9",
		To:        recipient,
		Amount:    250,
		Note:      "site visit confirmed output",
	})
	require.NoError(t, err)

	assert.Equal(t, submissions.StatusOverrideMinted, rec.Status)
	assert.True(t, rec.Minting.OK)
	assert.Equal(t, int64(250), rec.Minting.TokensMinted)
	assert.Equal(t, "admin", rec.Minting.OverrideBy)
	assert.Equal(t, "site visit confirmed output", rec.Minting.OverrideNote)
	assert.NotNil(t, rec.Minting.OverrideAt)
	require.Len(t, h.ledger.calls, 1)
	assert.Equal(t, "bafkreidocs", h.ledger.calls[0].contentRef, "falls back to the record's content reference")

	flagged, err := h.orch.ListFlagged(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestOverrideMintRequiresOperator(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.OverrideMint(context.Background(), &OverrideRequest{ProjectID: "x", To: recipient, Amount: 1})
	assert.ErrorIs(t, err, submissions.ErrUnauthorized)
	assert.Zero(t, h.ledger.callCount())
}

func TestOverrideMintValidation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]*OverrideRequest{
		"projectId": {To: recipient, Amount: 1},
		"to":        {ProjectID: "p", Amount: 1},
		"amount":    {ProjectID: "p", To: recipient},
	}
	for field, req := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := h.orch.OverrideMint(adminCtx(), req)
			var verr *submissions.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
		})
	}

	_, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "p", To: recipient, Amount: -5})
	assert.ErrorIs(t, err, submissions.ErrValidation)
	_, err = h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "p", To: "0x12", Amount: 5})
	assert.ErrorIs(t, err, submissions.ErrValidation)
}

func TestOverrideMintUnknownProject(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "ghost", To: recipient, Amount: 1})
	assert.ErrorIs(t, err, submissions.ErrNotFound)
	assert.Zero(t, h.ledger.callCount())
}

func TestOverrideMintAlreadyMinted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Submit(ctx, input("wind-10"))
	require.NoError(t, err)
	require.Equal(t, 1, h.ledger.callCount())

	_, err = h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-10", To: recipient, Amount: 10})
	assert.ErrorIs(t, err, submissions.ErrAlreadyMinted)
	assert.Equal(t, 1, h.ledger.callCount())

	rec, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-10", To: recipient, Amount: 10, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, h.ledger.callCount())
	assert.Equal(t, int64(10), rec.Minting.TokensMinted)
	require.Len(t, rec.Minting.Previous, 1)
	assert.Equal(t, int64(1500), rec.Minting.Previous[0].TokensMinted)
	assert.Empty(t, rec.Minting.Previous[0].OverrideBy)
}

func TestOverrideMintLedgerFailureLeavesRecord(t *testing.T) {
	h := newHarness(t)
	h.scorer.result = &scoring.Result{FraudScorePercent: 90, PredictedCO2Tons: 2}
	ctx := context.Background()
	_, err := h.orch.Submit(ctx, input("wind-11"))
	require.NoError(t, err)
	before, err := h.orch.Get(ctx, "wind-11")
	require.NoError(t, err)

	h.ledger.err = &submissions.MintFailure{Cause: errors.New("execution reverted")}
	_, err = h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-11", To: recipient, Amount: 10})
	assert.ErrorIs(t, err, submissions.ErrMintFailed)

	after, err := h.orch.Get(ctx, "wind-11")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, submissions.StatusFlagged, after.Status)
}

// An override that completes while the pipeline is still scoring wins;
// the pipeline then sees the success and does not mint again.
func TestOverrideWinsRaceWithPipeline(t *testing.T) {
	h := newHarness(t)
	h.scorer.entered = make(chan struct{})
	h.scorer.release = make(chan struct{})
	ctx := context.Background()

	type outcome struct {
		res *submissions.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Submit(ctx, input("wind-12"))
		done <- outcome{res, err}
	}()

	<-h.scorer.entered
	rec, err := h.orch.OverrideMint(adminCtx(), &OverrideRequest{ProjectID: "wind-12", To: recipient, Amount: 77})
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusOverrideMinted, rec.Status)
	close(h.scorer.release)

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.OK)
	assert.Equal(t, submissions.StatusOverrideMinted, got.res.Status)
	assert.Equal(t, int64(77), got.res.Minting.TokensMinted)
	assert.Equal(t, 1, h.ledger.callCount())

	final, err := h.orch.Get(ctx, "wind-12")
	require.NoError(t, err)
	assert.Equal(t, "admin", final.Minting.OverrideBy)
	require.NotNil(t, final.Scoring, "scoring result is still recorded")
}

func TestDirectMint(t *testing.T) {
	h := newHarness(t)

	receipt, err := h.orch.DirectMint(adminCtx(), &DirectMintRequest{To: recipient, Amount: 42, ContentRef: "bafkreix"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), receipt.Amount)
	assert.Equal(t, recipient, receipt.To)

	recent, err := h.orch.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent, "direct mints never create records")
	assert.Contains(t, h.notifier.types(), events.EventDirectMinted)
}

func TestDirectMintRequiresOperator(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.DirectMint(context.Background(), &DirectMintRequest{To: recipient, Amount: 1})
	assert.ErrorIs(t, err, submissions.ErrUnauthorized)
}

func TestDirectMintIdempotency(t *testing.T) {
	h := newHarness(t)
	req := &DirectMintRequest{To: recipient, Amount: 5, IdempotencyKey: "batch-7"}

	_, err := h.orch.DirectMint(adminCtx(), req)
	require.NoError(t, err)

	_, err = h.orch.DirectMint(adminCtx(), req)
	assert.ErrorIs(t, err, submissions.ErrDuplicateRequest)
	assert.Equal(t, 1, h.ledger.callCount())

	// the same key from another operator is a different request
	_, err = h.orch.DirectMint(WithOperator(context.Background(), "0xabc"), req)
	require.NoError(t, err)
	assert.Equal(t, 2, h.ledger.callCount())
}

func TestDirectMintReleasesKeyWhenNothingBroadcast(t *testing.T) {
	h := newHarness(t)
	req := &DirectMintRequest{To: recipient, Amount: 5, IdempotencyKey: "retry-me"}

	h.ledger.err = &submissions.MintFailure{Cause: errors.New("rpc unreachable")}
	_, err := h.orch.DirectMint(adminCtx(), req)
	require.ErrorIs(t, err, submissions.ErrMintFailed)

	h.ledger.err = nil
	_, err = h.orch.DirectMint(adminCtx(), req)
	require.NoError(t, err)
}

func TestDirectMintKeepsKeyAfterBroadcast(t *testing.T) {
	h := newHarness(t)
	req := &DirectMintRequest{To: recipient, Amount: 5, IdempotencyKey: "in-flight"}

	h.ledger.err = &submissions.MintFailure{Cause: errors.New("confirmation timeout"), TxHash: "0xabc"}
	_, err := h.orch.DirectMint(adminCtx(), req)
	require.Error(t, err)

	h.ledger.err = nil
	_, err = h.orch.DirectMint(adminCtx(), req)
	assert.ErrorIs(t, err, submissions.ErrDuplicateRequest)
}

func TestListRecentAndFlaggedThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.scorer.result = &scoring.Result{FraudScorePercent: 75, PredictedCO2Tons: 1}
	_, err := h.orch.Submit(ctx, input("p-75"))
	require.NoError(t, err)
	h.scorer.result = &scoring.Result{FraudScorePercent: 92, PredictedCO2Tons: 1}
	_, err = h.orch.Submit(ctx, input("p-92"))
	require.NoError(t, err)
	h.scorer.result = &scoring.Result{FraudScorePercent: 5, PredictedCO2Tons: 1}
	_, err = h.orch.Submit(ctx, input("p-5"))
	require.NoError(t, err)

	recent, err := h.orch.ListRecent(ctx, 500)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "p-5", recent[0].ProjectID)

	flagged, err := h.orch.ListFlagged(ctx, f64(90))
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "p-92", flagged[0].ProjectID)

	flagged, err = h.orch.ListFlagged(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, flagged, 2)
}

func TestGetRequiresProjectID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Get(context.Background(), " ")
	assert.ErrorIs(t, err, submissions.ErrValidation)
}

func TestBalance(t *testing.T) {
	h := newHarness(t)
	bal, err := h.orch.Balance(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), bal.Int64())
}
