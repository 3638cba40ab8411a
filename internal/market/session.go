package market

import "time"

// LiquiditySession classifies the time-of-day liquidity regime of a bar.
// Boundaries are in UTC and approximate a US cash session.
type LiquiditySession string

const (
	SessionRegular  LiquiditySession = "regular"
	SessionLunch    LiquiditySession = "lunch"
	SessionOffHours LiquiditySession = "off_hours"
)

// SessionOf returns the liquidity session for a timestamp. The lunch hour
// (17:00-18:00 UTC) is thin; anything outside 13:30-21:00 UTC is off-hours.
func SessionOf(t time.Time) LiquiditySession {
	utc := t.UTC()
	minutes := utc.Hour()*60 + utc.Minute()

	const (
		open  = 13*60 + 30
		close = 21 * 60
		lunchStart = 17 * 60
		lunchEnd   = 18 * 60
	)

	if minutes < open || minutes >= close {
		return SessionOffHours
	}
	if minutes >= lunchStart && minutes < lunchEnd {
		return SessionLunch
	}
	return SessionRegular
}
