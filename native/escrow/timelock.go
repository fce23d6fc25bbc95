package escrow

import "time"

// DefaultReleaseDelay is the cooling-off period between a deposit and the
// earliest instant the counterparty may withdraw.
const DefaultReleaseDelay = 3 * 24 * time.Hour

// ReleaseTime computes the instant at which a position deposited at
// depositTime becomes claimable.
func ReleaseTime(depositTime int64, delay time.Duration) int64 {
	return depositTime + int64(delay/time.Second)
}

// IsReleased reports whether the timelock has elapsed. The boundary is
// inclusive: a withdraw exactly at the release instant succeeds.
func IsReleased(now, releaseTime int64) bool {
	return now >= releaseTime
}
