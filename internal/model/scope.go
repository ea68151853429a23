package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard is the scope token granting access to every service, present and
// future. It must match the whole scope string; partial wildcards like
// "tts-*" are not supported.
const Wildcard = "*"

// Scope is a single access grant: either a literal service name or the
// wildcard. Keeping it a tagged value (rather than comparing strings against
// "*" at call sites) keeps the matching rule in one place.
type Scope struct {
	Name     string
	Wildcard bool
}

// ParseScope converts a raw scope string into a Scope. Whitespace is trimmed;
// the caller is responsible for rejecting empty strings.
func ParseScope(s string) Scope {
	s = strings.TrimSpace(s)
	if s == Wildcard {
		return Scope{Wildcard: true}
	}
	return Scope{Name: s}
}

// String renders the scope back to its wire form.
func (s Scope) String() string {
	if s.Wildcard {
		return Wildcard
	}
	return s.Name
}

// ScopeSet is the set of scopes granted to an API key. Order is irrelevant.
// It serializes as a JSON string array and persists as a comma-joined string.
type ScopeSet []Scope

// ParseScopeSet builds a ScopeSet from raw scope strings, dropping empties.
func ParseScopeSet(raw []string) ScopeSet {
	set := make(ScopeSet, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		set = append(set, ParseScope(s))
	}
	return set
}

// Matches reports whether the set permits access to the named service.
// True iff the set contains the service name exactly, or contains the
// wildcard. Comparison is case-sensitive. An empty service name only
// matches the wildcard.
func (ss ScopeSet) Matches(service string) bool {
	for _, s := range ss {
		if s.Wildcard {
			return true
		}
		if service != "" && s.Name == service {
			return true
		}
	}
	return false
}

// Strings returns the scopes in wire form.
func (ss ScopeSet) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.String()
	}
	return out
}

// MarshalJSON renders the set as a string array.
func (ss ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ss.Strings())
}

// UnmarshalJSON accepts a string array.
func (ss *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*ss = ParseScopeSet(raw)
	return nil
}

// Value persists the set as a comma-joined string for the scopes column.
func (ss ScopeSet) Value() (driver.Value, error) {
	return strings.Join(ss.Strings(), ","), nil
}

// Scan restores the set from its comma-joined column form.
func (ss *ScopeSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*ss = nil
		return nil
	case string:
		*ss = ParseScopeSet(strings.Split(v, ","))
		return nil
	case []byte:
		*ss = ParseScopeSet(strings.Split(string(v), ","))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ScopeSet", src)
	}
}
