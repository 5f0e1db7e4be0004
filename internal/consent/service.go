// Package consent tracks which legal documents a user has agreed to and
// decides when an operation must be blocked until the user re-consents.
package consent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"connsura/api/internal/rbac"
	"connsura/api/internal/store"
)

const (
	DocTerms       = "terms"
	DocPrivacy     = "privacy"
	DocDataSharing = "data-sharing"
	DocAgentTerms  = "agent-terms"
)

// AllDocs lists every known document type in display order.
func AllDocs() []string {
	return []string{DocTerms, DocPrivacy, DocDataSharing, DocAgentTerms}
}

// RequiredDocs lists the documents a role must have consented to before
// using the platform at all. Data sharing consent is requested separately
// when a profile share is first created.
func RequiredDocs(role string) []string {
	switch rbac.Normalize(role) {
	case rbac.RoleAgent:
		return []string{DocTerms, DocPrivacy, DocAgentTerms}
	default:
		return []string{DocTerms, DocPrivacy}
	}
}

// Requirement describes one document the user still has to accept.
type Requirement struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Title   string `json:"title"`
}

var docTitles = map[string]string{
	DocTerms:       "Terms of Service",
	DocPrivacy:     "Privacy Policy",
	DocDataSharing: "Data Sharing Agreement",
	DocAgentTerms:  "Agent Terms of Service",
}

type Store interface {
	LatestLegalDocument(ctx context.Context, docType string) (store.LegalDocument, error)
	LatestLegalDocuments(ctx context.Context, docTypes []string) (map[string]store.LegalDocument, error)
	LatestConsentVersions(ctx context.Context, userID string) (map[string]string, error)
	InsertConsent(ctx context.Context, consent store.UserConsent) error
	InsertConsents(ctx context.Context, consents []store.UserConsent) error
	InsertLegalDocument(ctx context.Context, doc store.LegalDocument) error
	ListConsentsByUser(ctx context.Context, userID string) ([]store.UserConsent, error)
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// Missing returns the documents among docTypes whose latest published
// version the user has not consented to. A consent for an older version
// does not satisfy a newer publication.
func (s *Service) Missing(ctx context.Context, userID string, docTypes []string) ([]Requirement, error) {
	latest, err := s.store.LatestLegalDocuments(ctx, docTypes)
	if err != nil {
		return nil, err
	}
	consented, err := s.store.LatestConsentVersions(ctx, userID)
	if err != nil {
		return nil, err
	}

	missing := make([]Requirement, 0)
	for _, docType := range docTypes {
		doc, published := latest[docType]
		if !published {
			continue
		}
		if CompareVersions(consented[docType], doc.Version) >= 0 {
			continue
		}
		missing = append(missing, Requirement{
			Type:    doc.Type,
			Version: doc.Version,
			Title:   docTitles[doc.Type],
		})
	}
	return missing, nil
}

// MissingRequired checks the role's baseline documents plus any extra
// document types the caller's operation demands.
func (s *Service) MissingRequired(ctx context.Context, userID, role string, extra ...string) ([]Requirement, error) {
	docTypes := RequiredDocs(role)
	for _, docType := range extra {
		if !contains(docTypes, docType) {
			docTypes = append(docTypes, docType)
		}
	}
	return s.Missing(ctx, userID, docTypes)
}

// Grant describes one consent submission.
type Grant struct {
	DocumentType string
	Version      string
	ConsentItems string
}

// Record stores a single consent after checking the version being accepted
// is the latest published one.
func (s *Service) Record(ctx context.Context, userID, role, ip, userAgent string, grant Grant) error {
	consent, err := s.buildConsent(ctx, userID, role, ip, userAgent, grant)
	if err != nil {
		return err
	}
	return s.store.InsertConsent(ctx, consent)
}

// RecordBulk stores a batch of consents atomically. If any grant names an
// unknown document or a stale version, nothing is recorded.
func (s *Service) RecordBulk(ctx context.Context, userID, role, ip, userAgent string, grants []Grant) error {
	if len(grants) == 0 {
		return fmt.Errorf("no consents supplied")
	}
	consents := make([]store.UserConsent, 0, len(grants))
	for _, grant := range grants {
		consent, err := s.buildConsent(ctx, userID, role, ip, userAgent, grant)
		if err != nil {
			return err
		}
		consents = append(consents, consent)
	}
	return s.store.InsertConsents(ctx, consents)
}

func (s *Service) buildConsent(ctx context.Context, userID, role, ip, userAgent string, grant Grant) (store.UserConsent, error) {
	doc, err := s.store.LatestLegalDocument(ctx, grant.DocumentType)
	if err != nil {
		return store.UserConsent{}, fmt.Errorf("unknown document %s: %w", grant.DocumentType, err)
	}
	if grant.Version != "" && grant.Version != doc.Version {
		return store.UserConsent{}, fmt.Errorf("stale version %s for %s, latest is %s", grant.Version, grant.DocumentType, doc.Version)
	}
	return store.UserConsent{
		UserID:       userID,
		Role:         string(rbac.Normalize(role)),
		DocumentType: doc.Type,
		Version:      doc.Version,
		IPAddress:    ip,
		UserAgent:    userAgent,
		ConsentItems: grant.ConsentItems,
	}, nil
}

// Publish stores a new document version. bumpMajor resets the minor
// component; otherwise the minor component increments, which forces every
// user to re-consent on their next gated operation.
func (s *Service) Publish(ctx context.Context, docType, content string, bumpMajor bool) (store.LegalDocument, error) {
	if _, ok := docTitles[docType]; !ok {
		return store.LegalDocument{}, fmt.Errorf("unknown document type %s", docType)
	}

	version := "1.0"
	current, err := s.store.LatestLegalDocument(ctx, docType)
	if err == nil {
		version = NextVersion(current.Version, bumpMajor)
	}

	sum := sha256.Sum256([]byte(content))
	doc := store.LegalDocument{
		Type:        docType,
		Version:     version,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
	}
	if err := s.store.InsertLegalDocument(ctx, doc); err != nil {
		return store.LegalDocument{}, err
	}
	return doc, nil
}

func (s *Service) History(ctx context.Context, userID string) ([]store.UserConsent, error) {
	return s.store.ListConsentsByUser(ctx, userID)
}

// Latest returns the latest published document per type. Types with no
// published version are absent from the result.
func (s *Service) Latest(ctx context.Context, docTypes []string) (map[string]store.LegalDocument, error) {
	return s.store.LatestLegalDocuments(ctx, docTypes)
}

// RenderContent substitutes the publication date into the document body.
// Source documents carry an "[Insert Date]" placeholder in their preamble.
func RenderContent(doc store.LegalDocument) string {
	return strings.ReplaceAll(doc.Content, "[Insert Date]", doc.PublishedAt.Format("January 2, 2006"))
}

// CompareVersions orders "major.minor" strings numerically. Empty or
// malformed components compare as zero, so "" < "1.0" < "1.2" < "2.0".
func CompareVersions(a, b string) int {
	aMajor, aMinor := splitVersion(a)
	bMajor, bMinor := splitVersion(b)
	if aMajor != bMajor {
		if aMajor < bMajor {
			return -1
		}
		return 1
	}
	if aMinor != bMinor {
		if aMinor < bMinor {
			return -1
		}
		return 1
	}
	return 0
}

func NextVersion(current string, bumpMajor bool) string {
	major, minor := splitVersion(current)
	if bumpMajor {
		return fmt.Sprintf("%d.0", major+1)
	}
	return fmt.Sprintf("%d.%d", major, minor+1)
}

func splitVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 2)
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) == 2 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
