package diff

import (
	"regexp"
	"strings"
)

// fieldLabels maps raw form keys to the labels the insurance forms use.
// Unknown keys fall back to humanized key names.
var fieldLabels = map[string]string{
	"relation":            "Relation to Applicant",
	"first-name":          "First Name",
	"middle-initial":      "Middle Initial",
	"last-name":           "Last Name",
	"suffix":              "Suffix",
	"dob":                 "Date of Birth",
	"gender":              "Gender",
	"marital-status":      "Marital Status",
	"education-level":     "Education Level",
	"employment":          "Employment",
	"occupation":          "Occupation",
	"driver-status":       "Driver Status",
	"license-type":        "Driver's License Type",
	"license-status":      "License Status",
	"years-licensed":      "Years Licensed",
	"license-state":       "License State",
	"license-number":      "License Number",
	"accident-prevention": "Accident Prevention Course",
	"sr22":                "SR-22 Required",
	"fr44":                "FR-44 Required",
	"phone1":              "Phone #1",
	"phone2":              "Phone #2",
	"email1":              "Email Address #1",
	"email2":              "Email Address #2",
	"address1":            "Address 1",
	"city":                "City",
	"state":               "State",
	"zip":                 "Zip Code",
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Label converts a flattened path into the display label of its last
// segment, e.g. "household.applicants[2].first-name" -> "First Name".
func Label(path string) string {
	if path == "" {
		return "Field"
	}
	cleaned := indexPattern.ReplaceAllString(path, " $1")
	parts := strings.Split(cleaned, ".")
	label := ""
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label = titleCase(lookupLabel(part))
	}
	if label == "" {
		return "Field"
	}
	return label
}

func lookupLabel(part string) string {
	// An index suffix stays attached to its key label: "applicants 2".
	key := part
	suffix := ""
	if idx := strings.LastIndex(part, " "); idx > 0 {
		if isDigits(part[idx+1:]) {
			key = part[:idx]
			suffix = " " + part[idx+1:]
		}
	}
	if known, ok := fieldLabels[key]; ok {
		return known + suffix
	}
	return strings.NewReplacer("-", " ", "_", " ").Replace(key) + suffix
}

func titleCase(value string) string {
	words := strings.Fields(value)
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
