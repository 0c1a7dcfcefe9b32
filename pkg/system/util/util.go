//go:build linux

package util

// DeltaU64 returns now-prev, saturating to 0 when now < prev (the counter
// wrapped or was reset) instead of underflowing.
func DeltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}
