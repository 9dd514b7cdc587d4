package library

import (
	"slices"
	"testing"
)

func TestRepoNames(t *testing.T) {
	tests := []struct {
		lib  Library
		repo string
	}{
		{Libogg, "ogg"},
		{Libopus, "opus"},
		{Libopusenc, "libopusenc"},
		{Libopusfile, "opusfile"},
	}
	for _, tt := range tests {
		if got := tt.lib.Repo(); got != tt.repo {
			t.Errorf("%s.Repo() = %q, want %q", tt.lib, got, tt.repo)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := Libogg.FileName("a"); got != "libogg.a" {
		t.Errorf("FileName = %q, want libogg.a", got)
	}
	if got := Libopus.FileName("so"); got != "libopus.so" {
		t.Errorf("FileName = %q, want libopus.so", got)
	}
}

func TestSortByDeps(t *testing.T) {
	libs := []Library{Libopusfile, Libopusenc, Libopus, Libogg}
	got, err := SortByDeps(libs)
	if err != nil {
		t.Fatalf("SortByDeps: %v", err)
	}
	idx := func(l Library) int { return slices.Index(got, l) }
	if idx(Libopus) > idx(Libopusenc) {
		t.Errorf("libopus must precede libopusenc: %v", got)
	}
	if idx(Libopus) > idx(Libopusfile) {
		t.Errorf("libopus must precede libopusfile: %v", got)
	}
	if idx(Libogg) > idx(Libopusfile) {
		t.Errorf("libogg must precede libopusfile: %v", got)
	}
	if len(got) != len(libs) {
		t.Errorf("len = %d, want %d", len(got), len(libs))
	}
}

func TestSortByDepsSkipsUnselectedDeps(t *testing.T) {
	// libopusfile depends on libopus and libogg, but only libopusfile is
	// requested; the sort must not pull dependencies into the plan.
	got, err := SortByDeps([]Library{Libopusfile})
	if err != nil {
		t.Fatalf("SortByDeps: %v", err)
	}
	if len(got) != 1 || got[0] != Libopusfile {
		t.Errorf("got %v, want [libopusfile]", got)
	}
}

func TestSortByDepsDeterministic(t *testing.T) {
	libs := []Library{Libopusenc, Libogg, Libopusfile, Libopus}
	first, err := SortByDeps(libs)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		again, err := SortByDeps(libs)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(first, again) {
			t.Fatalf("order not stable: %v vs %v", first, again)
		}
	}
}
