package lifecycle

import (
	"testing"

	"github.com/jo-hoe/palettebox/internal/backend/database"
)

func sampleCharacters() []*database.Character {
	return []*database.Character{
		{ID: "1", Name: "Asuka", SourceWork: "Evangelion", Description: strPtr("Pilot of Unit-02"), Status: database.StatusApproved},
		{ID: "2", Name: "Rei", SourceWork: "Evangelion", Status: database.StatusApproved},
		{ID: "3", Name: "Makima", SourceWork: "Chainsaw Man", Description: strPtr("Control devil"), Status: database.StatusApproved},
		{ID: "4", Name: "Power", SourceWork: "Chainsaw Man", Status: database.StatusPending},
	}
}

func filteredIDs(characters []*database.Character) []string {
	out := make([]string, 0, len(characters))
	for _, c := range characters {
		out = append(out, c.ID)
	}
	return out
}

func TestFilterCharacters(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter keeps everything", Filter{}, []string{"1", "2", "3", "4"}},
		{"exact source work", Filter{SourceWorkExact: "Evangelion"}, []string{"1", "2"}},
		{"source work is not a substring match", Filter{SourceWorkExact: "Evangel"}, []string{}},
		{"text matches name case-insensitively", Filter{TextQuery: "ASU"}, []string{"1"}},
		{"text matches source work", Filter{TextQuery: "chainsaw"}, []string{"3", "4"}},
		{"text matches description", Filter{TextQuery: "devil"}, []string{"3"}},
		{"filters combine with AND", Filter{SourceWorkExact: "Evangelion", TextQuery: "unit"}, []string{"1"}},
		{"AND with no overlap", Filter{SourceWorkExact: "Chainsaw Man", TextQuery: "unit"}, []string{}},
		{"whitespace query is ignored", Filter{TextQuery: "   "}, []string{"1", "2", "3", "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filteredIDs(FilterCharacters(sampleCharacters(), tt.filter))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestGroupBySourceWork(t *testing.T) {
	groups := GroupBySourceWork(sampleCharacters())
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].SourceWork != "Chainsaw Man" || groups[1].SourceWork != "Evangelion" {
		t.Errorf("groups not sorted: %s, %s", groups[0].SourceWork, groups[1].SourceWork)
	}
	if got := filteredIDs(groups[1].Characters); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("group order not preserved: %v", got)
	}
	if len(GroupBySourceWork(nil)) != 0 {
		t.Errorf("expected no groups for empty input")
	}
}

func TestIsPubliclyVisible(t *testing.T) {
	for _, c := range sampleCharacters() {
		want := c.Status == database.StatusApproved
		if IsPubliclyVisible(c) != want {
			t.Errorf("IsPubliclyVisible(%s) = %v, want %v", c.ID, !want, want)
		}
	}
	if IsPubliclyVisible(nil) {
		t.Errorf("nil character must not be visible")
	}
}
