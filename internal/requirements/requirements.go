package requirements

import "strings"

// Flags is a bitmask of externally-evaluated conditions gating downloads.
type Flags int

const (
	FlagNetwork Flags = 1 << iota
	FlagNetworkUnmetered
	FlagCharging
	FlagDeviceIdle
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagNetwork, "network"},
	{FlagNetworkUnmetered, "unmetered"},
	{FlagCharging, "charging"},
	{FlagDeviceIdle, "idle"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Requirements is the set of conditions that must hold for downloads to run.
type Requirements struct {
	Required Flags `json:"required"`
}

// Default requires network connectivity only.
var Default = Requirements{Required: FlagNetwork}

func (r Requirements) Equal(other Requirements) bool { return r.Required == other.Required }

// ParseFlags converts a comma/pipe separated flag list ("network,charging")
// into a bitmask. Unknown names are ignored.
func ParseFlags(s string) Flags {
	var f Flags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		part = strings.TrimSpace(part)
		for _, fn := range flagNames {
			if part == fn.name {
				f |= fn.flag
			}
		}
	}
	return f
}
