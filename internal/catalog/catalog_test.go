package catalog

import (
	"strings"
	"testing"
)

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		variants []Variant
		wantErr  string
	}{
		{"empty list", nil, "no variants"},
		{"blank id", []Variant{{ID: "  ", Name: "X", Weight: 1}}, "empty id"},
		{"zero weight", []Variant{{ID: "a", Name: "A", Weight: 0}}, "non-positive weight"},
		{"negative weight", []Variant{{ID: "a", Name: "A", Weight: -3}}, "non-positive weight"},
		{"duplicate id", []Variant{
			{ID: "a", Name: "A", Weight: 1},
			{ID: "a", Name: "A2", Weight: 2},
		}, "duplicate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.variants)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestGetTrimsAndTotals(t *testing.T) {
	c, err := New([]Variant{
		{ID: " ember ", Name: "Ember", Weight: 4},
		{ID: "mote", Name: "Mote", Weight: 6},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.TotalWeight() != 10 {
		t.Fatalf("total weight = %d, want 10", c.TotalWeight())
	}
	v, ok := c.Get("ember")
	if !ok || v.Name != "Ember" {
		t.Fatalf("Get(ember) = %+v, %v", v, ok)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatal("unknown id must not resolve")
	}
	if len(c.All()) != 2 {
		t.Fatalf("All() = %d entries, want 2", len(c.All()))
	}
}

func TestPickCoversWeightBands(t *testing.T) {
	c, err := New([]Variant{
		{ID: "common", Weight: 7},
		{ID: "rare", Weight: 2},
		{ID: "mythic", Weight: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Enumerate the full random range: each variant must be selected exactly
	// weight times.
	freq := map[string]int{}
	for r := 0; r < c.TotalWeight(); r++ {
		v := c.Pick(func(int) int { return r })
		freq[v.ID]++
	}
	want := map[string]int{"common": 7, "rare": 2, "mythic": 1}
	for id, n := range want {
		if freq[id] != n {
			t.Fatalf("%s picked %d times, want %d", id, freq[id], n)
		}
	}
}

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.All()) == 0 {
		t.Fatal("embedded catalog is empty")
	}
	if c.TotalWeight() <= 0 {
		t.Fatalf("total weight = %d", c.TotalWeight())
	}
}
