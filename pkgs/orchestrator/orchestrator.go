package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/decision"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ipfs"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/ledger"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/locks"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/metrics"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/scoring"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/store"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	MaxListLimit    = 200
	MaxFlaggedLimit = 500

	archiveTimeout = 15 * time.Second

	receiptRetryDelay   = 500 * time.Millisecond
	receiptRetryTimeout = 10 * time.Second
)

// Outcome labels recorded in metrics
const (
	OutcomeRejected    = "rejected"
	OutcomeMinted      = "minted"
	OutcomeMintFailed  = "mint_failed"
	OutcomeFlagged     = "flagged"
	OutcomeScoreFailed = "score_failed"
	OutcomeSkipped     = "already_minted"
)

// Mint kinds recorded in metrics
const (
	kindPipeline = "pipeline"
	kindOverride = "override"
	kindDirect   = "direct"
)

// Deduplicator guards direct mints against replayed idempotency keys
type Deduplicator interface {
	GenerateKey(operator, idempotencyKey string) string
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notifier receives lifecycle events. *events.Emitter satisfies it.
type Notifier interface {
	EmitSubmission(eventType events.EventType, payload *events.SubmissionEventPayload, reason string) error
	EmitMint(eventType events.EventType, payload *events.MintEventPayload, operator string, mintErr error) error
}

// Deps are the collaborators of an Orchestrator. Dedup, Archiver, Notifier
// and CheckRef are optional.
type Deps struct {
	Store    store.Store
	Scorer   scoring.Scorer
	Decision *decision.Engine
	Ledger   ledger.Minter
	Locker   locks.Locker

	Dedup    Deduplicator
	Archiver ipfs.Archiver
	Notifier Notifier
	CheckRef submissions.ReferenceValidator

	TokenScale int64
}

// Orchestrator drives a submission from intake to a terminal state and
// serves the administrative mint paths
type Orchestrator struct {
	store    store.Store
	scorer   scoring.Scorer
	decision *decision.Engine
	ledger   ledger.Minter
	locker   locks.Locker
	dedup    Deduplicator
	archiver ipfs.Archiver
	notifier Notifier
	checkRef submissions.ReferenceValidator

	tokenScale int64
	now        func() time.Time
}

// New creates an Orchestrator
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator requires a store")
	case deps.Scorer == nil:
		return nil, fmt.Errorf("orchestrator requires a scorer")
	case deps.Decision == nil:
		return nil, fmt.Errorf("orchestrator requires a decision engine")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("orchestrator requires a ledger")
	case deps.Locker == nil:
		return nil, fmt.Errorf("orchestrator requires a locker")
	}

	scale := deps.TokenScale
	if scale <= 0 {
		scale = ledger.DefaultTokenScale
	}

	return &Orchestrator{
		store:      deps.Store,
		scorer:     deps.Scorer,
		decision:   deps.Decision,
		ledger:     deps.Ledger,
		locker:     deps.Locker,
		dedup:      deps.Dedup,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		checkRef:   deps.CheckRef,
		tokenScale: scale,
		now:        time.Now,
	}, nil
}

// Submit validates and persists a submission, scores it and either mints
// or flags it. Scoring and ledger failures end up on the record and in the
// Result; only validation, conflict and store failures are returned.
func (o *Orchestrator) Submit(ctx context.Context, in *submissions.Input) (*submissions.Result, error) {
	sub, err := submissions.Validate(in, o.checkRef, o.now().UTC())
	if err != nil {
		metrics.SubmissionOutcomes.WithLabelValues(OutcomeRejected).Inc()
		return nil, err
	}

	if err := o.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	// the record exists now; a client going away must not strand it mid-pipeline
	ctx = context.WithoutCancel(ctx)

	logger := log.WithField("project_id", sub.ProjectID)
	logger.Info("Submission received")
	o.emitSubmission(events.EventSubmissionReceived, sub, 0, "")

	sub, err = o.score(ctx, sub)
	if err != nil {
		return nil, err
	}

	fraud := sub.FraudScore()
	outcome, threshold := o.decision.Decide(fraud)

	logger.WithFields(log.Fields{
		"fraud_score": fraud,
		"threshold":   threshold,
		"outcome":     outcome,
	}).Info("Submission decided")

	if outcome == decision.Flag {
		return o.flag(ctx, sub, threshold)
	}
	return o.mint(ctx, sub.ProjectID)
}

func (o *Orchestrator) score(ctx context.Context, sub *submissions.Submission) (*submissions.Submission, error) {
	projectID := sub.ProjectID
	if _, err := o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
		advance(s, submissions.StatusScoring)
		return nil
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	res, scoreErr := o.scorer.Score(ctx, &scoring.Request{
		ProjectID:          projectID,
		EnergyGeneratedKwh: sub.EnergyGeneratedKwh,
		WeatherScore:       sub.WeatherScore,
		GridEmissionFactor: sub.GridEmissionFactor,
	})
	metrics.ScoringDuration.WithLabelValues(metrics.ResultLabel(scoreErr)).Observe(time.Since(start).Seconds())

	if scoreErr != nil {
		log.WithError(scoreErr).WithField("project_id", projectID).Warn("Scoring failed, submission will be held for review")
		updated, err := o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
			advance(s, submissions.StatusScoreFailed)
			s.Scoring = nil
			s.ScoreError = scoreErr.Error()
			return nil
		})
		if err != nil {
			return nil, err
		}
		o.emitSubmission(events.EventScoreFailed, updated, 0, scoreErr.Error())
		return updated, nil
	}

	scored := &submissions.Scoring{
		Raw:               res.Raw,
		FraudScorePercent: res.FraudScorePercent,
		PredictedCO2Tons:  res.PredictedCO2Tons,
		ScoredAt:          o.now().UTC(),
	}
	updated, err := o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
		advance(s, submissions.StatusScored)
		s.Scoring = scored
		s.ScoreError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.emitSubmission(events.EventSubmissionScored, updated, 0, "")
	return updated, nil
}

func (o *Orchestrator) flag(ctx context.Context, sub *submissions.Submission, threshold float64) (*submissions.Result, error) {
	updated, err := o.store.Update(ctx, sub.ProjectID, func(s *submissions.Submission) error {
		if s.Minting.OK {
			// an override got there first; keep its outcome
			return nil
		}
		s.Status = submissions.StatusFlagged
		s.Minting.Flagged = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := flagReason(updated, threshold)
	if !updated.Minting.OK {
		label := OutcomeFlagged
		if updated.Scoring == nil {
			label = OutcomeScoreFailed
		}
		metrics.SubmissionOutcomes.WithLabelValues(label).Inc()
		o.emitSubmission(events.EventSubmissionFlagged, updated, threshold, reason)
		log.WithFields(log.Fields{
			"project_id": updated.ProjectID,
			"reason":     reason,
		}).Warn("Submission flagged for review")
	}

	result := resultFrom(updated)
	if result.Flagged {
		result.Reason = reason
	}
	return result, nil
}

func (o *Orchestrator) mint(ctx context.Context, projectID string) (*submissions.Result, error) {
	unlock, err := o.locker.Lock(ctx, projectID)
	if errors.Is(err, submissions.ErrBusy) {
		return o.lockedOut(ctx, projectID, err)
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := o.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if current.Minting.OK {
		log.WithField("project_id", projectID).Info("Submission already minted, skipping pipeline mint")
		metrics.SubmissionOutcomes.WithLabelValues(OutcomeSkipped).Inc()
		return resultFrom(current), nil
	}

	var tons float64
	if current.Scoring != nil {
		tons = current.Scoring.PredictedCO2Tons
	}
	tokens := ledger.TokensForOffset(tons, o.tokenScale)

	current, err = o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
		s.Status = submissions.StatusMinting
		s.Minting.TokensMinted = tokens
		s.Minting.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, mintErr := o.ledger.Mint(ctx, current.OwnerAddress, tokens, current.ContentRef)
	metrics.MintDuration.WithLabelValues(kindPipeline, metrics.ResultLabel(mintErr)).Observe(time.Since(start).Seconds())

	payload := &events.MintEventPayload{
		ProjectID:  projectID,
		To:         current.OwnerAddress,
		Amount:     tokens,
		ContentRef: current.ContentRef,
	}

	if mintErr != nil {
		log.WithError(mintErr).WithFields(log.Fields{
			"project_id": projectID,
			"tokens":     tokens,
		}).Error("Pipeline mint failed")

		var failure *submissions.MintFailure
		txHash := ""
		if errors.As(mintErr, &failure) {
			txHash = failure.TxHash
		}
		updated, err := o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
			s.Status = submissions.StatusMintFailed
			s.Minting.OK = false
			s.Minting.TokensMinted = tokens
			s.Minting.TxHash = txHash
			s.Minting.Error = mintErr.Error()
			return nil
		})
		if err != nil {
			return nil, err
		}
		payload.TxHash = txHash
		metrics.SubmissionOutcomes.WithLabelValues(OutcomeMintFailed).Inc()
		o.emitMint(events.EventMintFailed, payload, "", mintErr)
		return resultFrom(updated), nil
	}

	mintedAt := o.now().UTC()

	updated, err := o.recordReceipt(ctx, projectID, func(s *submissions.Submission) error {
		m := submissions.Minting{
			OK:           true,
			TokensMinted: receipt.Amount,
			TxHash:       receipt.TxHash,
			BlockNumber:  receipt.BlockNumber,
			MintedAt:     &mintedAt,
			Previous:     s.Minting.Previous,
		}
		s.Minting = m
		s.Status = submissions.StatusMinted
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"project_id": projectID,
			"tx_hash":    receipt.TxHash,
		}).Error("Minted on ledger but failed to record receipt")
		return nil, err
	}
	updated = o.attachReceipt(ctx, kindPipeline, updated, receipt, mintedAt)

	payload.TxHash = receipt.TxHash
	payload.BlockNumber = receipt.BlockNumber
	payload.ReceiptCID = updated.Minting.ReceiptCID
	metrics.SubmissionOutcomes.WithLabelValues(OutcomeMinted).Inc()
	o.emitMint(events.EventMinted, payload, "", nil)

	log.WithFields(log.Fields{
		"project_id": projectID,
		"tokens":     receipt.Amount,
		"tx_hash":    receipt.TxHash,
		"block":      receipt.BlockNumber,
	}).Info("Submission minted")

	return resultFrom(updated), nil
}

// lockedOut ends a pipeline run that could not take the project lock after
// scoring. The record is left in mint_failed so it shows up for review
// instead of sitting in scored.
func (o *Orchestrator) lockedOut(ctx context.Context, projectID string, lockErr error) (*submissions.Result, error) {
	log.WithError(lockErr).WithField("project_id", projectID).Warn("Project locked by another operation, pipeline mint not attempted")

	updated, err := o.store.Update(ctx, projectID, func(s *submissions.Submission) error {
		if s.Minting.OK {
			return nil
		}
		s.Status = submissions.StatusMintFailed
		s.Minting.Error = lockErr.Error()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !updated.Minting.OK {
		metrics.SubmissionOutcomes.WithLabelValues(OutcomeMintFailed).Inc()
	}
	return resultFrom(updated), nil
}

// recordReceipt writes a confirmed mint to the store. The tokens already
// exist on chain, so one failed write is retried under a fresh context.
func (o *Orchestrator) recordReceipt(ctx context.Context, projectID string, mutate store.MutateFunc) (*submissions.Submission, error) {
	updated, err := o.store.Update(ctx, projectID, mutate)
	if err == nil || errors.Is(err, submissions.ErrNotFound) {
		return updated, err
	}

	log.WithError(err).WithField("project_id", projectID).Warn("Failed to record mint receipt, retrying")
	time.Sleep(receiptRetryDelay)

	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptRetryTimeout)
	defer cancel()
	return o.store.Update(retryCtx, projectID, mutate)
}

// OverrideRequest is an operator-initiated mint for a stored submission
type OverrideRequest struct {
	ProjectID  string `json:"projectId"`
	To         string `json:"to"`
	Amount     int64  `json:"amount"`
	ContentRef string `json:"ipfsHash,omitempty"`
	Note       string `json:"note,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// OverrideMint mints for a stored submission regardless of its score. A
// record that already carries a successful mint is refused unless Force is
// set, in which case the earlier receipt is kept in Minting.Previous.
func (o *Orchestrator) OverrideMint(ctx context.Context, req *OverrideRequest) (*submissions.Submission, error) {
	operator, ok := OperatorFrom(ctx)
	if !ok {
		return nil, submissions.ErrUnauthorized
	}
	if req == nil || strings.TrimSpace(req.ProjectID) == "" {
		return nil, submissions.Missing("projectId")
	}
	if err := validateMintTarget(req.To, req.Amount); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(req.ProjectID)

	unlock, err := o.locker.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := o.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if current.Minting.OK && !req.Force {
		return nil, fmt.Errorf("%w: %s (tx %s)", submissions.ErrAlreadyMinted, projectID, current.Minting.TxHash)
	}

	contentRef := req.ContentRef
	if contentRef == "" {
		contentRef = current.ContentRef
	}

	logger := log.WithFields(log.Fields{
		"project_id": projectID,
		"operator":   operator,
		"to":         req.To,
		"amount":     req.Amount,
		"force":      req.Force,
	})
	logger.Info("Override mint requested")

	payload := &events.MintEventPayload{
		ProjectID:  projectID,
		To:         req.To,
		Amount:     req.Amount,
		ContentRef: contentRef,
	}

	start := time.Now()
	receipt, mintErr := o.ledger.Mint(ctx, req.To, req.Amount, contentRef)
	metrics.MintDuration.WithLabelValues(kindOverride, metrics.ResultLabel(mintErr)).Observe(time.Since(start).Seconds())
	if mintErr != nil {
		logger.WithError(mintErr).Error("Override mint failed")
		o.emitMint(events.EventMintFailed, payload, operator, mintErr)
		return nil, mintErr
	}

	at := o.now().UTC()

	updated, err := o.recordReceipt(ctx, projectID, func(s *submissions.Submission) error {
		previous := s.Minting.Previous
		// a failed attempt with a tx hash was broadcast and may still land
		if s.Minting.OK || s.Minting.TxHash != "" {
			prior := s.Minting
			prior.Previous = nil
			previous = append(previous, prior)
		}
		s.Minting = submissions.Minting{
			OK:           true,
			TokensMinted: receipt.Amount,
			TxHash:       receipt.TxHash,
			BlockNumber:  receipt.BlockNumber,
			MintedAt:     &at,
			OverrideBy:   operator,
			OverrideNote: req.Note,
			OverrideAt:   &at,
			Previous:     previous,
		}
		s.Status = submissions.StatusOverrideMinted
		return nil
	})
	if err != nil {
		logger.WithError(err).WithField("tx_hash", receipt.TxHash).Error("Override minted on ledger but failed to record receipt")
		return nil, err
	}
	updated = o.attachReceipt(ctx, kindOverride, updated, receipt, at)

	payload.TxHash = receipt.TxHash
	payload.BlockNumber = receipt.BlockNumber
	payload.ReceiptCID = updated.Minting.ReceiptCID
	o.emitMint(events.EventOverrideMinted, payload, operator, nil)
	logger.WithField("tx_hash", receipt.TxHash).Info("Override mint recorded")

	return updated, nil
}

// DirectMintRequest is an operator mint that is not tied to any submission
type DirectMintRequest struct {
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
	ContentRef     string `json:"ipfsHash,omitempty"`
	IdempotencyKey string `json:"-"`
}

// DirectMint mints straight to an address without touching the store
func (o *Orchestrator) DirectMint(ctx context.Context, req *DirectMintRequest) (*ledger.Receipt, error) {
	operator, ok := OperatorFrom(ctx)
	if !ok {
		return nil, submissions.ErrUnauthorized
	}
	if req == nil {
		return nil, submissions.Missing("to")
	}
	if err := validateMintTarget(req.To, req.Amount); err != nil {
		return nil, err
	}

	var dedupKey string
	if req.IdempotencyKey != "" && o.dedup != nil {
		dedupKey = o.dedup.GenerateKey(operator, req.IdempotencyKey)
		fresh, err := o.dedup.CheckAndMark(ctx, dedupKey)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, fmt.Errorf("%w: idempotency key %q", submissions.ErrDuplicateRequest, req.IdempotencyKey)
		}
	}

	payload := &events.MintEventPayload{
		To:         req.To,
		Amount:     req.Amount,
		ContentRef: req.ContentRef,
	}

	start := time.Now()
	receipt, err := o.ledger.Mint(ctx, req.To, req.Amount, req.ContentRef)
	metrics.MintDuration.WithLabelValues(kindDirect, metrics.ResultLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"operator": operator,
			"to":       req.To,
			"amount":   req.Amount,
		}).Error("Direct mint failed")
		if dedupKey != "" && !broadcast(err) {
			if relErr := o.dedup.Release(context.WithoutCancel(ctx), dedupKey); relErr != nil {
				log.WithError(relErr).Warn("Failed to release idempotency key")
			}
		}
		o.emitMint(events.EventMintFailed, payload, operator, err)
		return nil, err
	}

	payload.TxHash = receipt.TxHash
	payload.BlockNumber = receipt.BlockNumber
	o.emitMint(events.EventDirectMinted, payload, operator, nil)

	log.WithFields(log.Fields{
		"operator": operator,
		"to":       req.To,
		"amount":   receipt.Amount,
		"tx_hash":  receipt.TxHash,
	}).Info("Direct mint confirmed")

	return receipt, nil
}

// ListRecent returns the newest records first. A limit outside 1..200 is
// treated as 200.
func (o *Orchestrator) ListRecent(ctx context.Context, limit int) ([]*submissions.Submission, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return o.store.List(ctx, store.Filter{}, limit)
}

// Get returns a single record
func (o *Orchestrator) Get(ctx context.Context, projectID string) (*submissions.Submission, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, submissions.Missing("projectId")
	}
	return o.store.Get(ctx, projectID)
}

// ListFlagged returns unminted records at or above threshold, newest first.
// Records whose scoring failed are included since they were held fail-closed.
// A nil threshold uses the one currently configured.
func (o *Orchestrator) ListFlagged(ctx context.Context, threshold *float64) ([]*submissions.Submission, error) {
	t := o.decision.Threshold()
	if threshold != nil {
		t = *threshold
	}
	return o.store.List(ctx, store.Filter{
		OnlyUnminted:       true,
		MinFraudScore:      &t,
		IncludeScoreFailed: true,
	}, MaxFlaggedLimit)
}

// Threshold reports the fraud threshold in effect
func (o *Orchestrator) Threshold() float64 {
	return o.decision.Threshold()
}

// Balance returns the token balance of address
func (o *Orchestrator) Balance(ctx context.Context, address string) (*big.Int, error) {
	if strings.TrimSpace(address) == "" {
		return nil, submissions.Missing("address")
	}
	return o.ledger.BalanceOf(ctx, address)
}

// advance moves the pipeline state forward unless an override already
// minted the record, whose status is final
func advance(s *submissions.Submission, status submissions.Status) {
	if s.Minting.OK {
		return
	}
	s.Status = status
}

func validateMintTarget(to string, amount int64) error {
	if strings.TrimSpace(to) == "" {
		return submissions.Missing("to")
	}
	if !common.IsHexAddress(to) {
		return submissions.Invalid("to", "not a hex address")
	}
	if amount == 0 {
		return submissions.Missing("amount")
	}
	if amount < 0 {
		return submissions.Invalid("amount", "must be positive")
	}
	return nil
}

// broadcast reports whether a failed mint may already be on chain
func broadcast(err error) bool {
	var failure *submissions.MintFailure
	return errors.As(err, &failure) && failure.TxHash != ""
}

type mintReceipt struct {
	Kind        string    `json:"kind"`
	ProjectID   string    `json:"projectId"`
	To          string    `json:"to"`
	Amount      int64     `json:"amount"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	GasUsed     uint64    `json:"gasUsed"`
	ContentRef  string    `json:"ipfsHash,omitempty"`
	MintedAt    time.Time `json:"mintedAt"`
}

// attachReceipt archives a recorded mint and patches the CID onto the record.
// The mint is already durable, so failures here only cost the CID.
func (o *Orchestrator) attachReceipt(ctx context.Context, kind string, sub *submissions.Submission, receipt *ledger.Receipt, at time.Time) *submissions.Submission {
	cid := o.archive(ctx, kind, sub.ProjectID, receipt, at)
	if cid == "" {
		return sub
	}
	updated, err := o.store.Update(ctx, sub.ProjectID, func(s *submissions.Submission) error {
		if s.Minting.TxHash == receipt.TxHash {
			s.Minting.ReceiptCID = cid
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"project_id":  sub.ProjectID,
			"receipt_cid": cid,
		}).Warn("Failed to record receipt CID")
		sub.Minting.ReceiptCID = cid
		return sub
	}
	return updated
}

// archive stores the receipt on IPFS. Failures are logged and ignored.
func (o *Orchestrator) archive(ctx context.Context, kind, projectID string, receipt *ledger.Receipt, at time.Time) string {
	if o.archiver == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	cid, err := o.archiver.Archive(ctx, &mintReceipt{
		Kind:        kind,
		ProjectID:   projectID,
		To:          receipt.To,
		Amount:      receipt.Amount,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		ContentRef:  receipt.ContentRef,
		MintedAt:    at,
	})
	if err != nil {
		log.WithError(err).WithField("project_id", projectID).Warn("Failed to archive mint receipt")
		return ""
	}
	return cid
}

func (o *Orchestrator) emitSubmission(eventType events.EventType, sub *submissions.Submission, threshold float64, reason string) {
	if o.notifier == nil {
		return
	}
	payload := &events.SubmissionEventPayload{
		ProjectID:    sub.ProjectID,
		Status:       string(sub.Status),
		OwnerAddress: sub.OwnerAddress,
		Threshold:    threshold,
		Reason:       reason,
	}
	if sub.Scoring != nil {
		payload.FraudScore = sub.Scoring.FraudScorePercent
		payload.PredictedCO2Tons = sub.Scoring.PredictedCO2Tons
	}
	if err := o.notifier.EmitSubmission(eventType, payload, reason); err != nil {
		log.WithError(err).WithField("event_type", eventType).Debug("Event not emitted")
	}
}

func (o *Orchestrator) emitMint(eventType events.EventType, payload *events.MintEventPayload, operator string, mintErr error) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.EmitMint(eventType, payload, operator, mintErr); err != nil {
		log.WithError(err).WithField("event_type", eventType).Debug("Event not emitted")
	}
}

func flagReason(sub *submissions.Submission, threshold float64) string {
	if sub.Scoring == nil {
		if sub.ScoreError != "" {
			return "scoring unavailable: " + sub.ScoreError
		}
		return "scoring unavailable"
	}
	return fmt.Sprintf("fraud score %.2f%% is at or above threshold %.2f%%", sub.Scoring.FraudScorePercent, threshold)
}

// resultFrom summarizes a record's current state for the caller
func resultFrom(sub *submissions.Submission) *submissions.Result {
	r := &submissions.Result{
		ProjectID: sub.ProjectID,
		Status:    sub.Status,
		Scoring:   sub.Scoring,
	}
	m := sub.Minting
	switch {
	case m.OK:
		r.OK = true
		r.Minting = &m
	case sub.Status == submissions.StatusFlagged:
		r.Flagged = true
		r.Minting = &m
	case sub.Status == submissions.StatusMintFailed:
		r.Error = m.Error
		r.Minting = &m
	}
	return r
}
