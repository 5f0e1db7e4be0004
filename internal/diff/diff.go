// Package diff compares a proposed forms edit against the snapshot baseline
// and produces a human-readable change list: field-level updates plus
// array-element removals detected by structural signature matching.
package diff

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is one reported change. Path is the dotted location in the forms
// tree, Label its display name. After is "Removed" for deleted array
// elements.
type Entry struct {
	Path   string `json:"path"`
	Label  string `json:"label"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// RemovedSentinel marks an array element that exists in the baseline but has
// no structural match in the proposed tree.
const RemovedSentinel = "Removed"

type flatTree struct {
	paths  []string
	values map[string]string
	arrays map[string][]any
	order  []string
}

// Diff flattens baseline and proposed into path->value maps, restricted to
// scopeKeys, and reports every scalar whose normalized value changed followed
// by array removals. Arrays holding the same elements in a different order
// produce no entries, and removing elements yields one removal entry each
// with no positional side effects on the survivors.
func Diff(baseline, proposed map[string]any, scopeKeys []string) []Entry {
	scope := map[string]bool{}
	for _, key := range scopeKeys {
		scope[key] = true
	}

	before := flatten(baseline, scope)
	after := flatten(proposed, scope)

	// Arrays whose proposed elements all signature-cancel into the baseline
	// were at most reordered or shrunk. Positional comparison under them
	// would report phantom changes for every shifted element, so those
	// subtrees are skipped and only removals get reported.
	matched := make([]string, 0)
	for path, baseItems := range before.arrays {
		if nextItems, ok := after.arrays[path]; ok && elementsCancel(baseItems, nextItems) {
			matched = append(matched, path+"[")
		}
	}

	entries := make([]Entry, 0)
	for _, path := range after.paths {
		if underAnyPrefix(path, matched) {
			continue
		}
		afterValue := after.values[path]
		beforeValue := before.values[path]
		if beforeValue == afterValue {
			continue
		}
		entries = append(entries, Entry{
			Path:   path,
			Label:  Label(path),
			Before: beforeValue,
			After:  afterValue,
		})
	}

	for _, path := range before.order {
		if underAnyPrefix(path, matched) {
			continue
		}
		baseItems := before.arrays[path]
		nextItems, exists := after.arrays[path]
		if !exists || len(nextItems) >= len(baseItems) {
			continue
		}
		for _, removed := range unmatchedElements(baseItems, nextItems) {
			entries = append(entries, Entry{
				Path:   path,
				Label:  Label(path),
				Before: summarizeElement(removed),
				After:  RemovedSentinel,
			})
		}
	}
	return entries
}

func flatten(tree map[string]any, scope map[string]bool) flatTree {
	out := flatTree{
		values: map[string]string{},
		arrays: map[string][]any{},
	}
	if tree == nil {
		return out
	}
	keys := make([]string, 0, len(tree))
	for key := range tree {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if len(scope) > 0 && !scope[key] {
			continue
		}
		flattenValue(tree[key], key, &out)
	}
	return out
}

func flattenValue(value any, path string, out *flatTree) {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			flattenValue(typed[key], path+"."+key, out)
		}
	case []any:
		out.arrays[path] = typed
		out.order = append(out.order, path)
		for i, item := range typed {
			// 1-based indexes read naturally in the review UI.
			flattenValue(item, fmt.Sprintf("%s[%d]", path, i+1), out)
		}
	default:
		out.paths = append(out.paths, path)
		out.values[path] = normalizeScalar(typed)
	}
}

func normalizeScalar(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case bool:
		if typed {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing ".0" the fmt %v verb would avoid anyway.
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", typed), "0"), ".")
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}

// elementsCancel reports whether every proposed element has a structural
// match left in the baseline. True for pure reorders and pure shrinks.
func elementsCancel(baseline, proposed []any) bool {
	if len(proposed) > len(baseline) {
		return false
	}
	counts := map[string]int{}
	for _, item := range baseline {
		counts[Signature(item)]++
	}
	for _, item := range proposed {
		sig := Signature(item)
		if counts[sig] == 0 {
			return false
		}
		counts[sig]--
	}
	return true
}

func underAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// unmatchedElements cancels identical structural signatures between the two
// arrays and returns baseline elements left without a partner.
func unmatchedElements(baseline, proposed []any) []any {
	remaining := map[string]int{}
	for _, item := range proposed {
		remaining[Signature(item)]++
	}
	removed := make([]any, 0)
	for _, item := range baseline {
		sig := Signature(item)
		if remaining[sig] > 0 {
			remaining[sig]--
			continue
		}
		removed = append(removed, item)
	}
	return removed
}

// Signature computes a stable structural hash of a value: objects as sorted
// key:value pairs, arrays as bracketed element signatures, scalars as
// normalized strings.
func Signature(value any) string {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, key+":"+Signature(typed[key]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, Signature(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return normalizeScalar(typed)
	}
}

// summarizeElement labels a removed array element: a person's full name when
// present, else a relation/type-ish field, else the first non-empty scalar.
func summarizeElement(value any) string {
	object, ok := value.(map[string]any)
	if !ok {
		return normalizeScalar(value)
	}
	first := normalizeScalar(object["first-name"])
	last := normalizeScalar(object["last-name"])
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	for _, key := range []string{"name", "productName", "relation", "type"} {
		if label := normalizeScalar(object[key]); label != "" {
			return label
		}
	}
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if label := normalizeScalar(object[key]); label != "" {
			return label
		}
	}
	return "entry"
}
