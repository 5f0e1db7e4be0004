// Package share holds the primitives of a profile share: token and access
// code generation, snapshot copying, and section-scoped filtering/merging of
// form trees.
package share

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Forms is a decoded profile forms tree: nested maps, slices, and scalars.
type Forms = map[string]any

// Sections selects which profile sections a share exposes. Additional can be
// shared whole or narrowed to specific additional-form indexes.
type Sections struct {
	Household         bool  `json:"household,omitempty"`
	Address           bool  `json:"address,omitempty"`
	Vehicle           bool  `json:"vehicle,omitempty"`
	Business          bool  `json:"business,omitempty"`
	Additional        bool  `json:"additional,omitempty"`
	AdditionalIndexes []int `json:"additionalIndexes,omitempty"`
}

// Keys returns the top-level form keys covered by the selection, used to
// scope diffing to shared sections only.
func (s Sections) Keys() []string {
	keys := make([]string, 0, 5)
	if s.Household {
		keys = append(keys, "household")
	}
	if s.Address {
		keys = append(keys, "address")
	}
	if s.Vehicle {
		keys = append(keys, "vehicle")
	}
	if s.Business {
		keys = append(keys, "business")
	}
	if s.Additional || len(s.AdditionalIndexes) > 0 {
		keys = append(keys, "additional")
	}
	return keys
}

// Labels returns display names for the selected sections, in a stable order.
func (s Sections) Labels() []string {
	labels := make([]string, 0, 5)
	for _, key := range s.Keys() {
		labels = append(labels, strings.ToUpper(key[:1])+key[1:])
	}
	return labels
}

// Empty reports whether no section at all is selected.
func (s Sections) Empty() bool {
	return len(s.Keys()) == 0
}

// NewToken returns the opaque share identifier used in share URLs.
func NewToken() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// NewAccessCode returns a 4-digit numeric code drawn uniformly from
// crypto/rand. The code uses a separate, much smaller entropy source than the
// token so knowing one reveals nothing about the other.
func NewAccessCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// rand.Reader failing means the platform RNG is broken; there is
		// nothing sensible to fall back to.
		panic(fmt.Sprintf("share: access code generation: %v", err))
	}
	return fmt.Sprintf("%04d", n.Int64())
}

// HashCode returns the hex SHA-256 of an access code. Only hashes are
// persisted.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// CollapseSpaces trims and squeezes internal whitespace runs to one space.
func CollapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// NormalizeRecipientName canonicalizes a recipient name for comparison.
func NormalizeRecipientName(value string) string {
	return strings.ToLower(CollapseSpaces(value))
}

// Expired reports whether a share has passed its idle window. A share with
// no recorded access falls back to its creation time.
func Expired(lastAccessedAt, createdAt time.Time, now time.Time, window time.Duration) bool {
	last := lastAccessedAt
	if last.IsZero() {
		last = createdAt
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > window
}

// CloneForms deep-copies a forms tree so the snapshot stays referentially
// independent from the live profile.
func CloneForms(forms Forms) Forms {
	if forms == nil {
		return Forms{}
	}
	return cloneValue(forms).(Forms)
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// FilterFormsBySections narrows a forms tree to the sections a share covers.
// Used both to build the snapshot at creation time and to discard
// out-of-scope keys from submitted edits.
func FilterFormsBySections(forms Forms, sections Sections) Forms {
	filtered := Forms{}
	if forms == nil {
		return filtered
	}
	for _, key := range []string{"household", "address", "vehicle", "business"} {
		if sectionEnabled(sections, key) {
			if value, ok := forms[key]; ok {
				filtered[key] = cloneValue(value)
			}
		}
	}
	if sections.Additional {
		if value, ok := forms["additional"]; ok {
			filtered["additional"] = cloneValue(value)
		}
	} else if len(sections.AdditionalIndexes) > 0 {
		if picked := pickAdditionalForms(forms, sections.AdditionalIndexes); picked != nil {
			filtered["additional"] = picked
		}
	}
	return filtered
}

func sectionEnabled(sections Sections, key string) bool {
	switch key {
	case "household":
		return sections.Household
	case "address":
		return sections.Address
	case "vehicle":
		return sections.Vehicle
	case "business":
		return sections.Business
	default:
		return false
	}
}

func pickAdditionalForms(forms Forms, indexes []int) Forms {
	additional, ok := forms["additional"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := additional["additionalForms"].([]any)
	if !ok {
		return nil
	}
	picked := make([]any, 0, len(indexes))
	for _, index := range indexes {
		if index >= 0 && index < len(items) {
			picked = append(picked, cloneValue(items[index]))
		} else {
			picked = append(picked, nil)
		}
	}
	return Forms{"additionalForms": picked}
}

// MergeFormsBySections applies accepted edits onto the owner's live forms,
// touching only the shared sections. Partial additional shares write each
// edited form back to its original index.
func MergeFormsBySections(current, incoming Forms, sections Sections) Forms {
	next := Forms{}
	for key, value := range current {
		next[key] = cloneValue(value)
	}
	if incoming == nil {
		return next
	}
	for _, key := range []string{"household", "address", "vehicle", "business"} {
		if sectionEnabled(sections, key) {
			if value, ok := incoming[key]; ok {
				next[key] = cloneValue(value)
			}
		}
	}
	incomingAdditional, hasIncoming := incoming["additional"].(map[string]any)
	if sections.Additional && hasIncoming {
		next["additional"] = cloneValue(incomingAdditional)
		return next
	}
	if len(sections.AdditionalIndexes) > 0 && hasIncoming {
		editedForms, ok := incomingAdditional["additionalForms"].([]any)
		if !ok {
			return next
		}
		currentAdditional, _ := next["additional"].(map[string]any)
		if currentAdditional == nil {
			currentAdditional = Forms{}
		}
		merged, _ := currentAdditional["additionalForms"].([]any)
		for position, index := range sections.AdditionalIndexes {
			if position >= len(editedForms) || editedForms[position] == nil {
				continue
			}
			for len(merged) <= index {
				merged = append(merged, nil)
			}
			merged[index] = cloneValue(editedForms[position])
		}
		currentAdditional["additionalForms"] = merged
		next["additional"] = currentAdditional
	}
	return next
}
