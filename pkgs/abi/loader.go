package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"
)

// CarbonTokenABI is the subset of the CarbonToken contract used for minting
// and balance queries. It is the fallback when no ABI file is configured.
const CarbonTokenABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "string", "name": "ipfsHash", "type": "string"}
		],
		"name": "mintForProject",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// HardhatArtifact represents a Hardhat compilation artifact
type HardhatArtifact struct {
	Format       string          `json:"_format"`
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode,omitempty"`
}

// LoadCarbonToken loads the token ABI from path, or the embedded ABI when
// path is empty. The loaded ABI must expose mintForProject and balanceOf.
func LoadCarbonToken(path string) (abi.ABI, error) {
	var (
		parsed abi.ABI
		err    error
	)
	if path == "" {
		parsed, err = Parse([]byte(CarbonTokenABI))
	} else {
		parsed, err = LoadABI(path)
	}
	if err != nil {
		return abi.ABI{}, err
	}

	for _, method := range []string{"mintForProject", "balanceOf"} {
		if _, ok := parsed.Methods[method]; !ok {
			return abi.ABI{}, fmt.Errorf("ABI is missing method %s", method)
		}
	}
	return parsed, nil
}

// LoadABI loads an ABI from file.
// Supports both raw ABI JSON files and Hardhat artifact files
func LoadABI(path string) (abi.ABI, error) {
	logrus.WithField("path", path).Debug("Loading ABI file")

	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read ABI file %s: %w", path, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI from %s: %w", path, err)
	}
	return parsed, nil
}

// Parse decodes either a Hardhat artifact or a raw ABI array
func Parse(data []byte) (abi.ABI, error) {
	var artifact HardhatArtifact
	if err := json.Unmarshal(data, &artifact); err == nil && artifact.Format != "" {
		logrus.WithFields(logrus.Fields{
			"contractName": artifact.ContractName,
			"format":       artifact.Format,
		}).Debug("Detected Hardhat artifact, extracting ABI")

		parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("invalid ABI in Hardhat artifact: %w", err)
		}
		return parsed, nil
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("not a Hardhat artifact or valid ABI: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"methods": len(parsed.Methods),
		"events":  len(parsed.Events),
	}).Debug("Loaded raw ABI")

	return parsed, nil
}
