package email

import (
	"strings"
	"testing"
)

func TestComposeShareMessage(t *testing.T) {
	msg := ComposeShareMessage(ShareInvite{
		SectionLabels: []string{"Household", "Vehicle"},
		Editable:      true,
		Link:          "https://app.connsura.com/share/tok_abc",
		AccessCode:    "0042",
	})

	lines := strings.Split(msg, "\n")
	if lines[0] != "Shared profile sections: Household, Vehicle." {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if lines[1] != "Editing is enabled for this share." {
		t.Errorf("expected editing line, got %q", lines[1])
	}
	if lines[2] != "Link: https://app.connsura.com/share/tok_abc" {
		t.Errorf("unexpected link line: %q", lines[2])
	}
	if lines[3] != "Access code: 0042" {
		t.Errorf("unexpected code line: %q", lines[3])
	}
	if lines[4] != "The link requires the 4-digit code from the customer." {
		t.Errorf("unexpected closing line: %q", lines[4])
	}
}

func TestComposeShareMessageReadOnly(t *testing.T) {
	msg := ComposeShareMessage(ShareInvite{
		SectionLabels: []string{"Address"},
		Link:          "https://app.connsura.com/share/tok_x",
		AccessCode:    "1234",
	})
	if strings.Contains(msg, "Editing is enabled") {
		t.Error("read-only share must not mention editing")
	}
	if !strings.HasPrefix(msg, "Shared profile sections: Address.") {
		t.Errorf("unexpected message: %q", msg)
	}
}
