package email

import (
	"fmt"
	"strings"
)

// ShareInvite carries everything the recipient needs to open a share.
type ShareInvite struct {
	SectionLabels []string
	Editable      bool
	Link          string
	AccessCode    string
}

// ComposeShareMessage renders the text block a customer sends an agent when
// sharing profile sections. The access code travels in the same message as
// the link.
func ComposeShareMessage(invite ShareInvite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shared profile sections: %s.\n", strings.Join(invite.SectionLabels, ", "))
	if invite.Editable {
		b.WriteString("Editing is enabled for this share.\n")
	}
	fmt.Fprintf(&b, "Link: %s\n", invite.Link)
	fmt.Fprintf(&b, "Access code: %s\n", invite.AccessCode)
	b.WriteString("The link requires the 4-digit code from the customer.")
	return b.String()
}

// SendShareInvite emails the share message to a recipient address.
func (s *Service) SendShareInvite(to string, invite ShareInvite) error {
	return s.SendEmail([]string{to}, "A Connsura profile was shared with you", ComposeShareMessage(invite))
}
