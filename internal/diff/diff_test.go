package diff

import (
	"testing"
)

func TestDiffScalarChange(t *testing.T) {
	baseline := map[string]any{"a": map[string]any{"b": "1"}}
	proposed := map[string]any{"a": map[string]any{"b": "2"}}

	entries := Diff(baseline, proposed, []string{"a"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].Path != "a.b" {
		t.Errorf("expected path a.b, got %q", entries[0].Path)
	}
	if entries[0].Label != "B" {
		t.Errorf("expected label B, got %q", entries[0].Label)
	}
	if entries[0].Before != "1" || entries[0].After != "2" {
		t.Errorf("unexpected before/after: %+v", entries[0])
	}
}

func TestDiffOutOfScopeIgnored(t *testing.T) {
	baseline := map[string]any{
		"household": map[string]any{"size": "2"},
		"address":   map[string]any{"city": "Boise"},
	}
	proposed := map[string]any{
		"household": map[string]any{"size": "2"},
		"address":   map[string]any{"city": "Reno"},
	}
	entries := Diff(baseline, proposed, []string{"household"})
	if len(entries) != 0 {
		t.Fatalf("out-of-scope change reported: %+v", entries)
	}
}

func TestDiffMissingBaselineTreatedAsEmpty(t *testing.T) {
	baseline := map[string]any{"household": map[string]any{}}
	proposed := map[string]any{"household": map[string]any{"phone1": "555-0100"}}
	entries := Diff(baseline, proposed, []string{"household"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Before != "" || entries[0].After != "555-0100" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Label != "Phone #1" {
		t.Errorf("label table not applied: %q", entries[0].Label)
	}
}

func TestDiffRemovalBySignature(t *testing.T) {
	baseline := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Y"},
				map[string]any{"first-name": "Z"},
			},
		},
	}
	proposed := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Z"},
			},
		},
	}
	entries := Diff(baseline, proposed, []string{"household"})

	// The removal must be the only entry: Z shifting into Y's slot is not a
	// change.
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].After != RemovedSentinel {
		t.Fatalf("expected a removal entry, got %+v", entries[0])
	}
	if entries[0].Before != "Y" {
		t.Errorf("removal should summarize the missing member, got %q", entries[0].Before)
	}
}

func TestDiffRemovingFirstElementShiftsSilently(t *testing.T) {
	baseline := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Y"},
			},
		},
	}
	proposed := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "Y"},
			},
		},
	}
	entries := Diff(baseline, proposed, []string{"household"})
	if len(entries) != 1 {
		t.Fatalf("expected only the removal, got %d: %+v", len(entries), entries)
	}
	if entries[0].After != RemovedSentinel || entries[0].Before != "X" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestDiffReorderYieldsNothing(t *testing.T) {
	baseline := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Y"},
				map[string]any{"first-name": "Z"},
			},
		},
	}
	proposed := map[string]any{
		"household": map[string]any{
			"members": []any{
				map[string]any{"first-name": "Z"},
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Y"},
			},
		},
	}
	entries := Diff(baseline, proposed, []string{"household"})
	if len(entries) != 0 {
		t.Fatalf("reorder without removal must yield no entries, got %+v", entries)
	}
}

func TestDiffFieldChangesBeforeRemovals(t *testing.T) {
	baseline := map[string]any{
		"household": map[string]any{
			"phone1": "555-0100",
			"members": []any{
				map[string]any{"first-name": "X"},
				map[string]any{"first-name": "Y"},
			},
		},
	}
	proposed := map[string]any{
		"household": map[string]any{
			"phone1": "555-0199",
			"members": []any{
				map[string]any{"first-name": "X"},
			},
		},
	}
	entries := Diff(baseline, proposed, []string{"household"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].After == RemovedSentinel {
		t.Error("field changes must come before removals")
	}
	if entries[1].After != RemovedSentinel {
		t.Error("expected trailing removal entry")
	}
}

func TestSignatureOrderIndependentForObjects(t *testing.T) {
	a := map[string]any{"x": "1", "y": "2"}
	b := map[string]any{"y": "2", "x": "1"}
	if Signature(a) != Signature(b) {
		t.Error("object signature must not depend on key order")
	}
}

func TestLabelFallbackHumanizes(t *testing.T) {
	if got := Label("household.some_custom-key"); got != "Some Custom Key" {
		t.Errorf("got %q", got)
	}
	if got := Label("household.members[2].dob"); got != "Date Of Birth" {
		t.Errorf("got %q", got)
	}
}

func TestSummarizeElementFallbacks(t *testing.T) {
	if got := summarizeElement(map[string]any{"first-name": "Ada", "last-name": "Lovelace"}); got != "Ada Lovelace" {
		t.Errorf("got %q", got)
	}
	if got := summarizeElement(map[string]any{"relation": "Spouse"}); got != "Spouse" {
		t.Errorf("got %q", got)
	}
	if got := summarizeElement(map[string]any{"zz": "", "aa": "first"}); got != "first" {
		t.Errorf("got %q", got)
	}
	if got := summarizeElement(map[string]any{}); got != "entry" {
		t.Errorf("got %q", got)
	}
}
