package crypto

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

// TokenOperator is the operator identity recorded for bearer-token callers
const TokenOperator = "admin"

// DefaultSignatureWindow is how far in the future a signed request's
// deadline may lie
const DefaultSignatureWindow = 5 * time.Minute

// ReplayGuard remembers used nonces. *deduplication.Deduplicator satisfies it.
type ReplayGuard interface {
	GenerateKey(operator, idempotencyKey string) string
	CheckAndMark(ctx context.Context, key string) (bool, error)
}

// AdminAuthorizer decides whether a caller may use administrative operations.
// Either credential is enough: the shared bearer token, or an EIP-712
// signature from an allow-listed address.
type AdminAuthorizer struct {
	token    []byte
	verifier *EIP712Verifier
	admins   map[common.Address]struct{}
	guard    ReplayGuard
	window   time.Duration
	now      func() time.Time
}

// NewAdminAuthorizer creates an authorizer. verifier or guard may be nil to
// disable signed requests; an empty token disables bearer auth. A window of
// zero means DefaultSignatureWindow.
func NewAdminAuthorizer(token string, admins []string, verifier *EIP712Verifier, guard ReplayGuard, window time.Duration) (*AdminAuthorizer, error) {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	a := &AdminAuthorizer{
		verifier: verifier,
		admins:   make(map[common.Address]struct{}, len(admins)),
		guard:    guard,
		window:   window,
		now:      time.Now,
	}
	if token != "" {
		a.token = []byte(token)
	}
	for _, addr := range admins {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid admin address: %s", addr)
		}
		a.admins[common.HexToAddress(addr)] = struct{}{}
	}
	if verifier != nil && len(a.admins) > 0 && guard == nil {
		log.Warn("No replay guard for signed admin requests, only the bearer token is accepted")
	}
	if a.token == nil && !a.signaturesEnabled() {
		log.Warn("No admin credentials configured, administrative routes will reject every caller")
	}
	return a, nil
}

// AuthorizeToken checks a presented bearer token in constant time
func (a *AdminAuthorizer) AuthorizeToken(presented string) (string, error) {
	if a.token == nil || presented == "" {
		return "", submissions.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(a.token, []byte(presented)) != 1 {
		return "", submissions.ErrUnauthorized
	}
	return TokenOperator, nil
}

func (a *AdminAuthorizer) signaturesEnabled() bool {
	return a.verifier != nil && a.guard != nil && len(a.admins) > 0
}

// AuthorizeSignature checks a signed admin request and returns the signer
// address as the operator identity. Each signer nonce is accepted once.
func (a *AdminAuthorizer) AuthorizeSignature(ctx context.Context, request *AdminRequest, signature string) (string, error) {
	if !a.signaturesEnabled() {
		return "", submissions.ErrUnauthorized
	}
	now := uint64(a.now().Unix())
	if now > request.Deadline {
		return "", fmt.Errorf("%w: signed request expired", submissions.ErrUnauthorized)
	}
	if request.Deadline-now > uint64(a.window/time.Second) {
		return "", fmt.Errorf("%w: deadline more than %v ahead", submissions.ErrUnauthorized, a.window)
	}
	if request.Nonce == "" {
		return "", fmt.Errorf("%w: signed request has no nonce", submissions.ErrUnauthorized)
	}

	signer, err := a.verifier.VerifySignature(request, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", submissions.ErrUnauthorized, err)
	}
	if _, ok := a.admins[signer]; !ok {
		log.WithField("signer", signer.Hex()).Warn("Admin request signed by unknown address")
		return "", fmt.Errorf("%w: signer %s is not an admin", submissions.ErrUnauthorized, signer.Hex())
	}

	// marked only after the signature checks out, so strangers cannot burn nonces
	fresh, err := a.guard.CheckAndMark(ctx, a.guard.GenerateKey(signer.Hex(), "nonce:"+request.Nonce))
	if err != nil {
		return "", err
	}
	if !fresh {
		log.WithFields(log.Fields{
			"signer": signer.Hex(),
			"nonce":  request.Nonce,
		}).Warn("Replayed admin request rejected")
		return "", fmt.Errorf("%w: nonce already used", submissions.ErrUnauthorized)
	}
	return signer.Hex(), nil
}
