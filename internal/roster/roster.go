// Package roster resolves raw recipient sources (portal table or uploaded
// sheet) into the ordered list of people one send job will message.
package roster

import (
	"fmt"
	"strconv"
	"strings"
)

// Recipient is one addressable message target. Immutable once resolved.
type Recipient struct {
	ID    int
	Name  string
	Phone string
}

// Selection filters the resolved list by exact id membership. The zero
// value selects nothing; use All() or ParseSelection.
type Selection struct {
	all bool
	ids map[int]struct{}
}

// All selects every resolved recipient.
func All() Selection { return Selection{all: true} }

// IDs selects only the given ids.
func IDs(ids ...int) Selection {
	s := Selection{ids: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// ParseSelection parses the operator's raw selection input: the sentinel
// "all", or space-separated integer ids.
func ParseSelection(raw string) (Selection, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "all") {
		return All(), nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Selection{}, fmt.Errorf("selection is empty")
	}
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return Selection{}, fmt.Errorf("selection: invalid id %q", f)
		}
		ids = append(ids, id)
	}
	return IDs(ids...), nil
}

// IsAll reports whether the selection is the pass-through sentinel.
func (s Selection) IsAll() bool { return s.all }

// Contains reports whether the recipient id is selected.
func (s Selection) Contains(id int) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

func (s Selection) String() string {
	if s.all {
		return "all"
	}
	parts := make([]string, 0, len(s.ids))
	for id := range s.ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, " ")
}
