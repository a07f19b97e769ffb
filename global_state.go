package tiles

import "fmt"

// MemoryLimitPolicy limits which bins may hold memory at all, independent
// of the byte budget.
type MemoryLimitPolicy int

// Memory limit policies, most permissive first. The zero value allows
// everything.
const (
	// AllowAnything lets every bin except BinNever hold memory.
	AllowAnything MemoryLimitPolicy = iota

	// AllowPrepaintOnly limits memory to required and soon tiles.
	AllowPrepaintOnly

	// AllowAbsoluteMinimum limits memory to required tiles.
	AllowAbsoluteMinimum

	// AllowNothing releases all memory.
	AllowNothing
)

var policyNames = map[MemoryLimitPolicy]string{
	AllowAnything:        "anything",
	AllowPrepaintOnly:    "prepaint-only",
	AllowAbsoluteMinimum: "absolute-minimum",
	AllowNothing:         "nothing",
}

// String returns the policy name.
func (p MemoryLimitPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("MemoryLimitPolicy(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p MemoryLimitPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *MemoryLimitPolicy) UnmarshalText(text []byte) error {
	for k, v := range policyNames {
		if v == string(text) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("tiles: unknown memory limit policy %q", text)
}

// allows reports whether tiles in bin b may hold memory.
func (p MemoryLimitPolicy) allows(b Bin) bool {
	switch p {
	case AllowAnything:
		return b < BinNever
	case AllowPrepaintOnly:
		return b <= BinSoon
	case AllowAbsoluteMinimum:
		return b <= BinRequiredForDraw
	default:
		return false
	}
}

// GlobalState is the per-pass configuration that affects every tile's
// priority. It is comparable; ManageTiles compares it with the previous
// pass to detect changes.
type GlobalState struct {
	// MemoryLimitBytes is the budget for bound and in-flight resources.
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes"`

	// NumResourcesLimit caps the number of resources. Zero means no cap.
	NumResourcesLimit int `yaml:"num_resources_limit"`

	// TreePriority selects which tree wins ties within a bin.
	TreePriority TreePriority `yaml:"tree_priority"`

	// MemoryLimitPolicy limits which bins may hold memory.
	MemoryLimitPolicy MemoryLimitPolicy `yaml:"memory_limit_policy"`
}

// String returns a short description for logs.
func (s GlobalState) String() string {
	return fmt.Sprintf("GlobalState[%d KB, %d resources, %s, %s]",
		s.MemoryLimitBytes/1024, s.NumResourcesLimit, s.TreePriority, s.MemoryLimitPolicy)
}
