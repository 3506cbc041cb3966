package group

import (
	"sort"
	"strconv"
	"strings"
)

// ID identifies a group member. Ids are handed out once at join time and
// are totally ordered; smaller ids joined earlier.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form produced by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// Set is a set of member ids. It is owned by a single process and never
// shared; use Clone before handing it to someone else.
type Set map[ID]struct{}

func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id ID)    { s[id] = struct{}{} }
func (s Set) Remove(id ID) { delete(s, id) }
func (s Set) Len() int     { return len(s) }

func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Clone() Set {
	return NewSet(s.Sorted()...)
}

// Union returns a new set holding the members of both.
func (s Set) Union(o Set) Set {
	u := s.Clone()
	for id := range o {
		u.Add(id)
	}
	return u
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Min returns the smallest member. ok is false for an empty set.
func (s Set) Min() (min ID, ok bool) {
	for id := range s {
		if !ok || id < min {
			min, ok = id, true
		}
	}
	return min, ok
}

func (s Set) String() string {
	ids := s.Sorted()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
