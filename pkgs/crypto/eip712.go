package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	log "github.com/sirupsen/logrus"
)

const (
	domainName    = "GroviaCarbonRegistry"
	domainVersion = "1"
)

// AdminRequest is the EIP-712 message an operator signs to call an admin route
type AdminRequest struct {
	// Action is the HTTP method and path, e.g. "POST /admin/override-mint"
	Action   string
	BodyHash common.Hash
	Deadline uint64
	// Nonce is chosen by the operator and accepted once per signer
	Nonce string
}

// NewAdminRequest builds the message for an HTTP call, hashing the raw body
func NewAdminRequest(method, path string, body []byte, deadline uint64, nonce string) *AdminRequest {
	return &AdminRequest{
		Action:   method + " " + path,
		BodyHash: crypto.Keccak256Hash(body),
		Deadline: deadline,
		Nonce:    nonce,
	}
}

// EIP712Verifier handles EIP-712 signature verification
type EIP712Verifier struct {
	chainID           *big.Int
	verifyingContract common.Address
}

// NewEIP712Verifier creates a new verifier with domain parameters
func NewEIP712Verifier(chainID int64, verifyingContract string) (*EIP712Verifier, error) {
	if !common.IsHexAddress(verifyingContract) {
		return nil, fmt.Errorf("invalid verifying contract address: %s", verifyingContract)
	}

	return &EIP712Verifier{
		chainID:           big.NewInt(chainID),
		verifyingContract: common.HexToAddress(verifyingContract),
	}, nil
}

// HashRequest creates the EIP-712 hash for an admin request
func (v *EIP712Verifier) HashRequest(request *AdminRequest) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"AdminRequest": []apitypes.Type{
				{Name: "action", Type: "string"},
				{Name: "bodyHash", Type: "bytes32"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "string"},
			},
		},
		PrimaryType: "AdminRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(v.chainID),
			VerifyingContract: v.verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":   request.Action,
			"bodyHash": request.BodyHash.Bytes(),
			"deadline": (*math.HexOrDecimal256)(new(big.Int).SetUint64(request.Deadline)),
			"nonce":    request.Nonce,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// EIP-712 hash: keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message))
	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	hash := crypto.Keccak256Hash(rawData)

	return hash.Bytes(), nil
}

// RecoverAddress recovers the signer's address from message hash and signature
func RecoverAddress(msgHash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d, expected 65", len(signature))
	}

	// Signature format: [R || S || V] where V is 27 or 28
	v := signature[64]
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("invalid recovery id: got %d, expected 27 or 28", v)
	}

	// Ecrecover expects V as 0 or 1; adjust a copy so the caller's slice is untouched
	sig := make([]byte, 65)
	copy(sig, signature)
	sig[64] -= 27

	pubKeyRaw, err := crypto.Ecrecover(msgHash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover failed: %w", err)
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyRaw)
	if err != nil {
		return common.Address{}, fmt.Errorf("pubkey unmarshal failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifySignature verifies an EIP-712 signature and returns the signer's address
func (v *EIP712Verifier) VerifySignature(request *AdminRequest, signatureStr string) (common.Address, error) {
	// hex-encoded, with or without 0x prefix
	signature := common.FromHex(signatureStr)
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: got %d bytes, expected 65", len(signature))
	}

	msgHash, err := v.HashRequest(request)
	if err != nil {
		return common.Address{}, fmt.Errorf("EIP-712 hash generation failed: %w", err)
	}

	signerAddr, err := RecoverAddress(msgHash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("address recovery failed: %w", err)
	}

	log.Debugf("EIP-712 admin request verified: action=%s, deadline=%d, msgHash=0x%x, signer=%s",
		request.Action, request.Deadline, msgHash, signerAddr.Hex())

	return signerAddr, nil
}

// SignRequest signs an admin request the way an operator wallet does and
// returns the 0x-prefixed signature with V in {27, 28}
func (v *EIP712Verifier) SignRequest(request *AdminRequest, key *ecdsa.PrivateKey) (string, error) {
	msgHash, err := v.HashRequest(request)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(msgHash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin request: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
