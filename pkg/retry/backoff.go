// Package retry provides deterministic backoff and an ordered fallback
// combinator over alternative strategies.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identifies one attempt. The same params always produce the
// same jitter.
type BackoffParams struct {
	PolicyID     string
	Strategy     string
	OperationID  string
	AttemptIndex int
}

type BackoffPolicy struct {
	PolicyID    string
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
}

// DefaultPolicy is used by the persistence tiers.
var DefaultPolicy = BackoffPolicy{
	PolicyID:    "default",
	BaseMs:      50,
	MaxMs:       2000,
	MaxJitterMs: 25,
}

// ComputeBackoff returns the delay before the attempt following
// params.AttemptIndex: base * 2^attempt capped at MaxMs, plus jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	delay := policy.BaseMs * factor
	if policy.MaxMs > 0 && delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%s:%d",
		params.PolicyID,
		params.Strategy,
		params.OperationID,
		params.AttemptIndex,
	)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive
}
