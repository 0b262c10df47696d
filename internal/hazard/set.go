package hazard

import (
	"encoding/json"
	"slices"
	"strings"
)

// Set is an immutable set of hazards. Operations return new sets and never
// modify their receiver, so a Set can be shared between goroutines freely.
// The zero value is the empty set.
type Set struct {
	m map[Hazard]struct{}
}

// NewSet builds a set from the given hazards. Duplicates are collapsed.
func NewSet(hs ...Hazard) Set {
	if len(hs) == 0 {
		return Set{}
	}
	m := make(map[Hazard]struct{}, len(hs))
	for _, h := range hs {
		m[h] = struct{}{}
	}
	return Set{m: m}
}

// Parse builds a set from tag names, trimming whitespace and skipping empties.
func Parse(names []string) Set {
	hs := make([]Hazard, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			hs = append(hs, Hazard(n))
		}
	}
	return NewSet(hs...)
}

// Len returns the number of hazards in the set.
func (s Set) Len() int { return len(s.m) }

// IsEmpty reports whether the set has no hazards.
func (s Set) IsEmpty() bool { return len(s.m) == 0 }

// Contains reports whether h is in the set.
func (s Set) Contains(h Hazard) bool {
	_, ok := s.m[h]
	return ok
}

// ContainsAll reports whether every hazard of other is in s.
func (s Set) ContainsAll(other Set) bool {
	for h := range other.m {
		if !s.Contains(h) {
			return false
		}
	}
	return true
}

// Add returns a new set holding s plus hs.
func (s Set) Add(hs ...Hazard) Set {
	m := make(map[Hazard]struct{}, len(s.m)+len(hs))
	for h := range s.m {
		m[h] = struct{}{}
	}
	for _, h := range hs {
		m[h] = struct{}{}
	}
	return Set{m: m}
}

// Union returns the hazards present in either set.
func (s Set) Union(other Set) Set {
	if other.IsEmpty() {
		return s
	}
	if s.IsEmpty() {
		return other
	}
	m := make(map[Hazard]struct{}, len(s.m)+len(other.m))
	for h := range s.m {
		m[h] = struct{}{}
	}
	for h := range other.m {
		m[h] = struct{}{}
	}
	return Set{m: m}
}

// Intersect returns the hazards present in both sets.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if small.Len() > large.Len() {
		small, large = large, small
	}
	var hs []Hazard
	for h := range small.m {
		if large.Contains(h) {
			hs = append(hs, h)
		}
	}
	return NewSet(hs...)
}

// Equal reports whether both sets hold exactly the same hazards.
func (s Set) Equal(other Set) bool {
	return s.Len() == other.Len() && s.ContainsAll(other)
}

// Slice returns the hazards sorted by name.
func (s Set) Slice() []Hazard {
	hs := make([]Hazard, 0, len(s.m))
	for h := range s.m {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// Strings returns the sorted hazard names.
func (s Set) Strings() []string {
	hs := s.Slice()
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = string(h)
	}
	return out
}

// String renders the set as a comma separated, sorted list.
func (s Set) String() string {
	return strings.Join(s.Strings(), ", ")
}

// MarshalJSON encodes the set as a sorted array of names.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of names. A JSON null yields the empty set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = Parse(names)
	return nil
}
