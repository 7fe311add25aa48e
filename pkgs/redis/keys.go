package redis

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// KeyBuilder provides methods to generate namespaced Redis keys
type KeyBuilder struct {
	Namespace string
	Contract  string
}

// checksumAddress converts an Ethereum address to checksummed format (EIP-55).
// If the input is not a valid Ethereum address, it returns the input unchanged.
func checksumAddress(addr string) string {
	if addr == "" {
		return addr
	}
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// NewKeyBuilder creates a KeyBuilder. Keys are scoped by namespace and, when
// set, by the token contract so two deployments can share one Redis.
func NewKeyBuilder(namespace, contract string) *KeyBuilder {
	if namespace == "" {
		namespace = "grovia"
	}
	return &KeyBuilder{
		Namespace: namespace,
		Contract:  checksumAddress(contract),
	}
}

func (kb *KeyBuilder) prefix() string {
	if kb.Contract == "" {
		return kb.Namespace
	}
	return fmt.Sprintf("%s:%s", kb.Namespace, kb.Contract)
}

// Submission Store Keys

// Submission returns the key holding the JSON record for a project
func (kb *KeyBuilder) Submission(projectID string) string {
	return fmt.Sprintf("%s:submission:%s", kb.prefix(), projectID)
}

// SubmissionsByCreated returns the ZSET key indexing project IDs by creation time
func (kb *KeyBuilder) SubmissionsByCreated() string {
	return fmt.Sprintf("%s:submissions:by_created", kb.prefix())
}

// Coordination Keys

// ProjectLock returns the key of the per-project serialization lock
func (kb *KeyBuilder) ProjectLock(projectID string) string {
	return fmt.Sprintf("%s:lock:project:%s", kb.prefix(), projectID)
}

// DedupPrefix returns the prefix for direct-mint idempotency keys
func (kb *KeyBuilder) DedupPrefix() string {
	return fmt.Sprintf("%s:dedup:", kb.prefix())
}

// Monitoring Keys

// WorkerHeartbeat returns the key for a worker's last heartbeat
func (kb *KeyBuilder) WorkerHeartbeat(workerType, workerID string) string {
	return fmt.Sprintf("%s:worker:%s:%s:heartbeat", kb.prefix(), workerType, workerID)
}

// WorkerStatus returns the key for a worker's current status
func (kb *KeyBuilder) WorkerStatus(workerType, workerID string) string {
	return fmt.Sprintf("%s:worker:%s:%s:status", kb.prefix(), workerType, workerID)
}

// WorkerHeartbeatPattern matches every worker heartbeat key, for SCAN
func (kb *KeyBuilder) WorkerHeartbeatPattern() string {
	return fmt.Sprintf("%s:worker:*:heartbeat", kb.prefix())
}

// WorkerFromHeartbeatKey splits a heartbeat key into worker type and ID
func (kb *KeyBuilder) WorkerFromHeartbeatKey(key string) (workerType, workerID string, ok bool) {
	rest, found := strings.CutPrefix(key, kb.prefix()+":worker:")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, ":heartbeat")
	if !found {
		return "", "", false
	}
	workerType, workerID, ok = strings.Cut(rest, ":")
	return workerType, workerID, ok && workerID != ""
}

// StaleSubmissions returns the SET key holding project IDs stuck mid-pipeline
func (kb *KeyBuilder) StaleSubmissions() string {
	return fmt.Sprintf("%s:monitor:stale", kb.prefix())
}

// EventChannel returns the Pub/Sub channel for a lifecycle event group
func (kb *KeyBuilder) EventChannel(group string) string {
	return fmt.Sprintf("%s:events:%s", kb.Namespace, group)
}
