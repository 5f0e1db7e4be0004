package export

import (
	"strings"
	"testing"
	"time"
)

func sampleRequest() Request {
	return Request{
		CustomerName:  "Jordan Smith",
		RecipientName: "Agent Riley",
		SectionKeys:   []string{"household", "vehicle"},
		SectionLabels: map[string]string{"household": "Household", "vehicle": "Vehicle"},
		GeneratedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Forms: map[string]any{
			"household": map[string]any{
				"phone1": "555-0100",
				"applicants": []any{
					map[string]any{"first-name": "Jordan", "last-name": "Smith"},
					map[string]any{"first-name": "Casey", "last-name": "Smith"},
				},
			},
			"vehicle": []any{
				map[string]any{"year": "2020", "make": "Toyota"},
			},
		},
	}
}

func TestBuildTemplateDataSections(t *testing.T) {
	data := BuildTemplateData(sampleRequest())

	if len(data.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(data.Sections))
	}
	if data.Sections[0].Label != "Household" {
		t.Errorf("unexpected label %q", data.Sections[0].Label)
	}

	// Vehicle is an array form, so each element becomes its own group.
	vehicle := data.Sections[1]
	if len(vehicle.Groups) != 1 || vehicle.Groups[0].Heading != "Entry 1" {
		t.Fatalf("unexpected vehicle groups: %+v", vehicle.Groups)
	}
}

func TestBuildTemplateDataSkipsAbsentSections(t *testing.T) {
	req := sampleRequest()
	req.SectionKeys = append(req.SectionKeys, "business")
	data := BuildTemplateData(req)
	if len(data.Sections) != 2 {
		t.Fatalf("absent section must be skipped, got %d sections", len(data.Sections))
	}
}

func TestBuildRowsUsesFieldLabels(t *testing.T) {
	data := BuildTemplateData(sampleRequest())
	var found bool
	for _, group := range data.Sections[0].Groups {
		for _, row := range group.Rows {
			if row.Label == "Phone #1" && row.Value == "555-0100" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected a Phone #1 row from the label table")
	}
}

func TestRenderProfileHTML(t *testing.T) {
	html, err := RenderProfileHTML(BuildTemplateData(sampleRequest()))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Jordan Smith", "Agent Riley", "Household", "555-0100", "June 1, 2025"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderProfileHTMLEscapesValues(t *testing.T) {
	req := sampleRequest()
	req.Forms["household"] = map[string]any{"phone1": "<script>alert(1)</script>"}
	html, err := RenderProfileHTML(BuildTemplateData(req))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("form values must be HTML-escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Jordan Smith profile": "Jordan-Smith-profile",
		"":                     "profile",
		"a/b\\c":               "abc",
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
