package replay

import "time"

// UnixEpochTicks is 1970-01-01T00:00:00Z counted in 100ns ticks from
// 0001-01-01T00:00:00Z, the .NET DateTime epoch.
const UnixEpochTicks int64 = 621355968000000000

const nanosPerTick = 100

// Ticks converts t to .NET ticks.
func Ticks(t time.Time) int64 {
	return UnixEpochTicks + t.UnixNano()/nanosPerTick
}

// FromTicks converts .NET ticks to a UTC time.
func FromTicks(ticks int64) time.Time {
	rel := ticks - UnixEpochTicks
	sec := rel / (int64(time.Second) / nanosPerTick)
	rem := rel % (int64(time.Second) / nanosPerTick)
	return time.Unix(sec, rem*nanosPerTick).UTC()
}
