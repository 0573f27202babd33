package models

import "fmt"

// EngineSettings is the administrator-mutable subset of the engine
// configuration. Attester and treasury accounts are boot-time only and live
// in the static config.
type EngineSettings struct {
	FeeBps               int64 `json:"fee_bps" yaml:"fee_bps"`
	LateCancelPenaltyBps int64 `json:"late_cancel_penalty_bps" yaml:"late_cancel_penalty_bps"`
	ChallengeBond        int64 `json:"challenge_bond" yaml:"challenge_bond"`
	ChallengeWindowSecs  int64 `json:"challenge_window_secs" yaml:"challenge_window_secs"`
	DisputeTimeoutSecs   int64 `json:"dispute_timeout_secs" yaml:"dispute_timeout_secs"`
	NoAttestBufferSecs   int64 `json:"no_attest_buffer_secs" yaml:"no_attest_buffer_secs"`
	Version              int64 `json:"version" yaml:"-"`
}

func (s *EngineSettings) Validate() error {
	if s.FeeBps < 0 || s.FeeBps > BpsDenominator {
		return fmt.Errorf("fee_bps must be in [0, %d], got %d", BpsDenominator, s.FeeBps)
	}
	if s.LateCancelPenaltyBps < 0 || s.LateCancelPenaltyBps > BpsDenominator {
		return fmt.Errorf("late_cancel_penalty_bps must be in [0, %d], got %d", BpsDenominator, s.LateCancelPenaltyBps)
	}
	if s.ChallengeBond <= 0 {
		return fmt.Errorf("challenge_bond must be positive, got %d", s.ChallengeBond)
	}
	if s.ChallengeWindowSecs <= 0 {
		return fmt.Errorf("challenge_window_secs must be positive, got %d", s.ChallengeWindowSecs)
	}
	if s.DisputeTimeoutSecs <= 0 {
		return fmt.Errorf("dispute_timeout_secs must be positive, got %d", s.DisputeTimeoutSecs)
	}
	if s.NoAttestBufferSecs <= 0 {
		return fmt.Errorf("no_attest_buffer_secs must be positive, got %d", s.NoAttestBufferSecs)
	}
	return nil
}

// BpsOf returns amount*bps/10000 with integer truncation.
func BpsOf(amount, bps int64) int64 {
	return amount * bps / BpsDenominator
}

// LedgerState is the pair of scalars every fund-moving operation maintains:
// Held is the sum of all currently escrowed value, Balance the actual
// balance of the engine's escrow account. Balance >= Held always.
type LedgerState struct {
	Held    int64 `json:"held"`
	Balance int64 `json:"balance"`
}
