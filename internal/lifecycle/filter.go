package lifecycle

import (
	"sort"
	"strings"

	"github.com/jo-hoe/palettebox/internal/backend/database"
)

// Filter narrows an already fetched list. Empty fields are ignored; when both are set
// a character must satisfy both.
type Filter struct {
	SourceWorkExact string
	TextQuery       string
}

// FilterCharacters keeps the characters matching f, preserving order. TextQuery matches
// name, source work or description as a case-insensitive substring.
func FilterCharacters(characters []*database.Character, f Filter) []*database.Character {
	query := strings.ToLower(strings.TrimSpace(f.TextQuery))
	filtered := make([]*database.Character, 0, len(characters))
	for _, c := range characters {
		if f.SourceWorkExact != "" && c.SourceWork != f.SourceWorkExact {
			continue
		}
		if query != "" && !matchesText(c, query) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

func matchesText(c *database.Character, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(c.Name), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(c.SourceWork), lowerQuery) {
		return true
	}
	return c.Description != nil && strings.Contains(strings.ToLower(*c.Description), lowerQuery)
}

type SourceWorkGroup struct {
	SourceWork string                `json:"sourceWork"`
	Characters []*database.Character `json:"characters"`
}

// GroupBySourceWork buckets characters by source work. Groups are sorted by name; each
// group keeps the input order of its characters.
func GroupBySourceWork(characters []*database.Character) []SourceWorkGroup {
	index := make(map[string]int)
	groups := make([]SourceWorkGroup, 0)
	for _, c := range characters {
		i, ok := index[c.SourceWork]
		if !ok {
			i = len(groups)
			index[c.SourceWork] = i
			groups = append(groups, SourceWorkGroup{SourceWork: c.SourceWork})
		}
		groups[i].Characters = append(groups[i].Characters, c)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].SourceWork < groups[b].SourceWork
	})
	return groups
}

// IsPubliclyVisible reports whether c may be shown to anonymous visitors.
func IsPubliclyVisible(c *database.Character) bool {
	return c != nil && c.Status == database.StatusApproved
}
