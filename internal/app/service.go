package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"connsura/api/internal/auth"
	"connsura/api/internal/authpw"
	"connsura/api/internal/config"
	"connsura/api/internal/consent"
	"connsura/api/internal/diff"
	"connsura/api/internal/email"
	"connsura/api/internal/export"
	"connsura/api/internal/legalrepo"
	"connsura/api/internal/rbac"
	"connsura/api/internal/search"
	"connsura/api/internal/share"
	"connsura/api/internal/store"
	"connsura/api/internal/util"
)

// Session is the authenticated caller attached to a request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service needs. Implemented by
// store.PostgresStore and by the fake in tests.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	GetCustomerByUserID(ctx context.Context, userID string) (store.Customer, error)
	GetCustomerByID(ctx context.Context, customerID string) (store.Customer, error)
	UpdateCustomerProfileData(ctx context.Context, customerID, profileData string) error
	GetAgent(ctx context.Context, agentID string) (store.Agent, error)

	CreateShare(ctx context.Context, record store.ProfileShare) error
	MutateShare(ctx context.Context, token string, fn func(*store.ProfileShare) error) (store.ProfileShare, error)
	ListSharesByCustomer(ctx context.Context, customerID string) ([]store.ProfileShare, error)
	ListPendingSharesByCustomer(ctx context.Context, customerID string) ([]store.ProfileShare, error)

	EnsureConversation(ctx context.Context, customerID, agentID, conversationID string) (string, error)
	InsertMessage(ctx context.Context, message store.Message) error

	ListRecentConsents(ctx context.Context, limit int) ([]store.UserConsent, error)
}

// sessionStore holds refresh sessions. Redis in production, Postgres as the
// fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// codeLimiter tracks failed access-code attempts per share token.
type codeLimiter interface {
	Blocked(ctx context.Context, token string) (bool, error)
	RecordFailure(ctx context.Context, token string) (bool, error)
	Reset(ctx context.Context, token string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	limiter  codeLimiter
	consent  *consent.Service
	search   *search.Service
	export   *export.Service
	email    *email.Service
	legal    *legalrepo.Service
	authpw   *authpw.Service
	now      func() time.Time
}

func New(
	cfg config.Config,
	dataStore dataStore,
	sessions sessionStore,
	limiter codeLimiter,
	consentSvc *consent.Service,
	searchSvc *search.Service,
	exportSvc *export.Service,
	emailSvc *email.Service,
	legalSvc *legalrepo.Service,
	authSvc *authpw.Service,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		limiter:  limiter,
		consent:  consentSvc,
		search:   searchSvc,
		export:   exportSvc,
		email:    emailSvc,
		legal:    legalSvc,
		authpw:   authSvc,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Bootstrap seeds the initial legal document versions so consent gating works
// on a fresh database. Idempotent: already-published types are left alone.
func (s *Service) Bootstrap(ctx context.Context) error {
	seeds := map[string]string{
		consent.DocTerms:       "Connsura Terms of Service\nEffective [Insert Date].\n\nPlaceholder terms pending legal review.",
		consent.DocPrivacy:     "Connsura Privacy Policy\nEffective [Insert Date].\n\nPlaceholder policy pending legal review.",
		consent.DocDataSharing: "Connsura Data Sharing Agreement\nEffective [Insert Date].\n\nYou authorize sharing the selected profile sections with your chosen recipient.",
		consent.DocAgentTerms:  "Connsura Agent Terms of Service\nEffective [Insert Date].\n\nPlaceholder agent terms pending legal review.",
	}
	published, err := s.consent.Latest(ctx, consent.AllDocs())
	if err != nil {
		return err
	}
	for _, docType := range consent.AllDocs() {
		if _, ok := published[docType]; ok {
			continue
		}
		doc, err := s.consent.Publish(ctx, docType, seeds[docType], false)
		if err != nil {
			return fmt.Errorf("seed %s: %w", docType, err)
		}
		if s.legal != nil {
			if _, err := s.legal.CommitVersion(docType, doc.Content, doc.Version, "Connsura"); err != nil {
				log.Printf("bootstrap: commit %s source: %v", docType, err)
			}
		}
		log.Printf("bootstrap: published %s v%s", docType, doc.Version)
	}
	return nil
}

// --- Sessions ---

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	partial, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session store may carry only the user ID; reload the full record.
	user, err := s.store.GetUserByID(ctx, partial.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- Shares ---

type CreateShareInput struct {
	AgentID       string
	RecipientName string
	Sections      share.Sections
	Editable      bool
}

// CreateShare snapshots the selected profile sections and issues a token +
// access code. Requires data-sharing consent at the latest published version.
func (s *Service) CreateShare(ctx context.Context, session Session, input CreateShareInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionShareProfile) {
		return nil, errForbidden("Only customers can share a profile")
	}
	customer, err := s.store.GetCustomerByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errForbidden("No customer profile for this account")
		}
		return nil, err
	}

	if input.Sections.Empty() {
		return nil, errValidation("Select at least one profile section to share")
	}
	if input.AgentID == "" && share.CollapseSpaces(input.RecipientName) == "" {
		return nil, errValidation("A recipient agent or recipient name is required")
	}
	if input.AgentID != "" && share.CollapseSpaces(input.RecipientName) != "" {
		return nil, errValidation("Choose either an agent or a named recipient, not both")
	}

	missing, err := s.consent.MissingRequired(ctx, session.UserID, session.Role, consent.DocDataSharing)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, errConsentRequired(missing)
	}

	recipientName := share.CollapseSpaces(input.RecipientName)
	var agentID *string
	var agent store.Agent
	if input.AgentID != "" {
		agent, err = s.store.GetAgent(ctx, input.AgentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errNotFound("Agent not found")
			}
			return nil, err
		}
		agentID = &agent.ID
		recipientName = agent.Name
	}

	forms, err := decodeProfileForms(customer.ProfileData)
	if err != nil {
		return nil, err
	}
	snapshot := share.FilterFormsBySections(share.CloneForms(forms), input.Sections)

	token := share.NewToken()
	code := share.NewAccessCode()
	now := s.now()
	record := store.ProfileShare{
		Token:                   token,
		CodeHash:                share.HashCode(code),
		CustomerID:              customer.ID,
		AgentID:                 agentID,
		RecipientName:           recipientName,
		RecipientNameNormalized: share.NormalizeRecipientName(recipientName),
		Sections:                encodeJSON(input.Sections),
		Snapshot:                encodeJSON(snapshot),
		Editable:                input.Editable,
		Status:                  "active",
		PendingStatus:           "none",
		LastAccessedAt:          now,
		CreatedAt:               now,
	}
	if err := s.store.CreateShare(ctx, record); err != nil {
		return nil, err
	}

	link := s.cfg.ShareBaseURL + "/" + token
	message := email.ComposeShareMessage(email.ShareInvite{
		SectionLabels: input.Sections.Labels(),
		Editable:      input.Editable,
		Link:          link,
		AccessCode:    code,
	})

	if agentID != nil {
		conversationID, err := s.store.EnsureConversation(ctx, customer.ID, *agentID, util.NewID("conv"))
		if err != nil {
			return nil, err
		}
		if err := s.store.InsertMessage(ctx, store.Message{
			ConversationID: conversationID,
			SenderRole:     "CUSTOMER",
			Body:           message,
		}); err != nil {
			return nil, err
		}
	}

	view := ownerShareView(record, s.now())
	// The plain code exists only in this response; only its hash is stored.
	view["code"] = code
	view["link"] = link
	view["message"] = message
	return view, nil
}

// VerifyShare unlocks a share with its access code. touch reports genuine
// recent user activity and advances the idle clock. viewer is the bearer
// session on the request, zero when the recipient is not signed in: a
// signed-in agent opening a share addressed to them needs data-sharing
// consent before the snapshot is revealed.
func (s *Service) VerifyShare(ctx context.Context, viewer Session, token, code, recipientName string, touch bool) (map[string]any, error) {
	record, err := s.unlockShare(ctx, token, code, recipientName, touch)
	if err != nil {
		return nil, err
	}
	if err := s.requireRecipientConsent(ctx, viewer, record); err != nil {
		return nil, err
	}
	customerName := ""
	if customer, err := s.store.GetCustomerByID(ctx, record.CustomerID); err == nil {
		customerName = customer.Name
	}
	return recipientShareView(record, customerName)
}

// requireRecipientConsent gates agent-addressed shares: the addressed agent,
// when signed in, must hold data-sharing consent at the latest published
// version to view the snapshot. Anonymous recipients have no consent record
// to check.
func (s *Service) requireRecipientConsent(ctx context.Context, viewer Session, record store.ProfileShare) error {
	if record.AgentID == nil || viewer.UserID == "" {
		return nil
	}
	agent, err := s.store.GetAgent(ctx, *record.AgentID)
	if err != nil || agent.UserID == nil || *agent.UserID != viewer.UserID {
		return nil
	}
	missing, err := s.consent.MissingRequired(ctx, viewer.UserID, viewer.Role, consent.DocDataSharing)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errConsentRequired(missing)
	}
	return nil
}

// SubmitEdits stages a proposed edit for owner review. Edits outside the
// shared sections are discarded, never applied.
func (s *Service) SubmitEdits(ctx context.Context, token, code, recipientName string, forms share.Forms) (map[string]any, error) {
	now := s.now()
	record, err := s.mutateUnlocked(ctx, token, code, recipientName, func(rec *store.ProfileShare) error {
		if !rec.Editable {
			return errForbidden("This share is read-only")
		}
		sections, err := decodeSections(rec.Sections)
		if err != nil {
			return err
		}
		filtered := share.FilterFormsBySections(forms, sections)
		if len(filtered) == 0 {
			return errValidation("Edit payload contains no shared sections")
		}
		rec.PendingEdits = encodeJSON(map[string]any{"forms": filtered})
		rec.PendingStatus = "pending"
		rec.PendingAt = &now
		rec.LastAccessedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recipientShareView(record, "")
}

// CloseShare is the recipient-side hang-up: it revokes the share. Closing an
// already closed share succeeds without changing anything, and a share that
// sat idle past the window closes as expired rather than revoked.
func (s *Service) CloseShare(ctx context.Context, token, code, recipientName string) (map[string]any, error) {
	if err := s.checkAttemptBudget(ctx, token); err != nil {
		return nil, err
	}
	record, err := s.store.MutateShare(ctx, token, func(rec *store.ProfileShare) error {
		if err := matchCredentials(rec, code, recipientName); err != nil {
			return err
		}
		if rec.Status != "active" {
			return nil
		}
		if share.Expired(rec.LastAccessedAt, rec.CreatedAt, s.now(), s.cfg.ShareIdleWindow) {
			rec.Status = "expired"
		} else {
			rec.Status = "revoked"
		}
		if rec.PendingStatus != "pending" {
			rec.PendingAt = nil
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Share not found")
		}
		return nil, s.noteFailedAttempt(ctx, token, err)
	}
	_ = s.resetAttempts(ctx, token)
	return map[string]any{"token": record.Token, "status": record.Status}, nil
}

// DecideEdits is the owner's accept/decline on a pending edit. Accept merges
// the staged forms into the live profile and re-baselines the snapshot so the
// next diff starts from the applied state. Decline also revokes the share.
func (s *Service) DecideEdits(ctx context.Context, session Session, token, decision string) (map[string]any, error) {
	if decision != "accept" && decision != "decline" {
		return nil, errValidation("Decision must be accept or decline")
	}
	if !s.Can(session.Role, rbac.ActionReviewEdits) {
		return nil, errForbidden("Only the owning customer can decide on edits")
	}
	customer, err := s.store.GetCustomerByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errForbidden("No customer profile for this account")
		}
		return nil, err
	}

	record, err := s.store.MutateShare(ctx, token, func(rec *store.ProfileShare) error {
		if rec.CustomerID != customer.ID {
			return errForbidden("Only the owning customer can decide on edits")
		}
		if rec.Status != "active" {
			return errGone("Share is no longer active")
		}
		if rec.PendingStatus != "pending" {
			return errValidation("No pending edits to decide on")
		}

		if decision == "decline" {
			rec.PendingEdits = ""
			rec.PendingStatus = "declined"
			rec.PendingAt = nil
			rec.Status = "revoked"
			return nil
		}

		sections, err := decodeSections(rec.Sections)
		if err != nil {
			return err
		}
		edits, err := decodePendingEdits(rec.PendingEdits)
		if err != nil {
			return err
		}
		live, err := decodeProfileForms(customer.ProfileData)
		if err != nil {
			return err
		}
		merged := share.MergeFormsBySections(live, edits, sections)
		if err := s.store.UpdateCustomerProfileData(ctx, customer.ID, encodeJSON(map[string]any{"forms": merged})); err != nil {
			return err
		}
		rec.Snapshot = encodeJSON(share.FilterFormsBySections(merged, sections))
		rec.PendingEdits = ""
		rec.PendingStatus = "accepted"
		rec.PendingAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Share not found")
		}
		return nil, err
	}
	return ownerShareView(record, s.now()), nil
}

// RevokeShare is the owner-side kill switch. A pending edit on a revoked
// share is treated as declined.
func (s *Service) RevokeShare(ctx context.Context, session Session, token string) (map[string]any, error) {
	customer, err := s.store.GetCustomerByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errForbidden("No customer profile for this account")
		}
		return nil, err
	}
	record, err := s.store.MutateShare(ctx, token, func(rec *store.ProfileShare) error {
		if rec.CustomerID != customer.ID {
			return errForbidden("Only the owning customer can revoke a share")
		}
		if rec.Status != "active" {
			return nil
		}
		rec.Status = "revoked"
		if rec.PendingStatus == "pending" {
			rec.PendingStatus = "declined"
			rec.PendingEdits = ""
			rec.PendingAt = nil
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Share not found")
		}
		return nil, err
	}
	return map[string]any{"token": record.Token, "status": record.Status}, nil
}

// ListShares returns every share the customer created, newest first. Idle
// windows are reflected in the reported status without waiting for the next
// recipient access to persist the transition.
func (s *Service) ListShares(ctx context.Context, session Session) ([]map[string]any, error) {
	customer, err := s.store.GetCustomerByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errForbidden("No customer profile for this account")
		}
		return nil, err
	}
	records, err := s.store.ListSharesByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, s.listShareView(record))
	}
	return items, nil
}

// ListPendingShares returns shares awaiting an owner decision, each carrying
// the labeled diff of the staged edits against the snapshot baseline.
func (s *Service) ListPendingShares(ctx context.Context, session Session) ([]map[string]any, error) {
	customer, err := s.store.GetCustomerByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errForbidden("No customer profile for this account")
		}
		return nil, err
	}
	records, err := s.store.ListPendingSharesByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		view := s.listShareView(record)
		changes, err := diffShareEdits(record)
		if err != nil {
			return nil, err
		}
		view["changes"] = changes
		items = append(items, view)
	}
	return items, nil
}

func (s *Service) listShareView(record store.ProfileShare) map[string]any {
	view := ownerShareView(record, s.now())
	if record.Status == "active" && share.Expired(record.LastAccessedAt, record.CreatedAt, s.now(), s.cfg.ShareIdleWindow) {
		view["status"] = "expired"
	}
	return view
}

// ExportSharePDF renders the visible snapshot sections to PDF. Code-gated
// like any recipient access, and touches the idle clock.
func (s *Service) ExportSharePDF(ctx context.Context, token, code, recipientName string) (*export.Result, error) {
	record, err := s.unlockShare(ctx, token, code, recipientName, true)
	if err != nil {
		return nil, err
	}
	sections, err := decodeSections(record.Sections)
	if err != nil {
		return nil, err
	}
	snapshot, err := decodeForms(record.Snapshot)
	if err != nil {
		return nil, err
	}
	customerName := ""
	if customer, err := s.store.GetCustomerByID(ctx, record.CustomerID); err == nil {
		customerName = customer.Name
	}

	keys := sections.Keys()
	labels := sections.Labels()
	labelByKey := make(map[string]string, len(keys))
	for i, key := range keys {
		labelByKey[key] = labels[i]
	}
	return s.export.ExportSnapshot(ctx, export.Request{
		CustomerName:  customerName,
		RecipientName: record.RecipientName,
		SectionKeys:   keys,
		SectionLabels: labelByKey,
		Forms:         snapshot,
		GeneratedAt:   s.now(),
	})
}

// unlockShare runs the shared verify discipline: attempt budget, lazy idle
// expiry (persisted), status check, then code and recipient-name match. A
// successful unlock resets the attempt counter.
func (s *Service) unlockShare(ctx context.Context, token, code, recipientName string, touch bool) (store.ProfileShare, error) {
	return s.mutateUnlocked(ctx, token, code, recipientName, func(rec *store.ProfileShare) error {
		if touch {
			rec.LastAccessedAt = s.now()
		}
		return nil
	})
}

// mutateUnlocked applies fn to a share after the verify checks pass. The idle
// expiry transition commits even though the caller sees GONE: the sweep is
// the access itself.
func (s *Service) mutateUnlocked(ctx context.Context, token, code, recipientName string, fn func(*store.ProfileShare) error) (store.ProfileShare, error) {
	if err := s.checkAttemptBudget(ctx, token); err != nil {
		return store.ProfileShare{}, err
	}
	expired := false
	record, err := s.store.MutateShare(ctx, token, func(rec *store.ProfileShare) error {
		if rec.Status == "active" && share.Expired(rec.LastAccessedAt, rec.CreatedAt, s.now(), s.cfg.ShareIdleWindow) {
			rec.Status = "expired"
			expired = true
			return nil
		}
		if rec.Status != "active" {
			return errGone("Share is no longer active")
		}
		if err := matchCredentials(rec, code, recipientName); err != nil {
			return err
		}
		return fn(rec)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProfileShare{}, errNotFound("Share not found")
		}
		return store.ProfileShare{}, s.noteFailedAttempt(ctx, token, err)
	}
	if expired {
		return store.ProfileShare{}, errGone("Share expired from inactivity")
	}
	_ = s.resetAttempts(ctx, token)
	return record, nil
}

func matchCredentials(rec *store.ProfileShare, code, recipientName string) error {
	if share.HashCode(code) != rec.CodeHash {
		return errInvalidCode()
	}
	if rec.AgentID == nil && rec.RecipientNameNormalized != "" &&
		share.NormalizeRecipientName(recipientName) != rec.RecipientNameNormalized {
		return errInvalidCode()
	}
	return nil
}

func (s *Service) checkAttemptBudget(ctx context.Context, token string) error {
	if s.limiter == nil {
		return nil
	}
	blocked, err := s.limiter.Blocked(ctx, token)
	if err != nil {
		log.Printf("share: attempt limiter check: %v", err)
		return nil
	}
	if blocked {
		return errTooManyAttempts()
	}
	return nil
}

func (s *Service) noteFailedAttempt(ctx context.Context, token string, cause error) error {
	var domainErr *DomainError
	if s.limiter == nil || !errors.As(cause, &domainErr) || domainErr.Code != "INVALID_CODE" {
		return cause
	}
	exhausted, err := s.limiter.RecordFailure(ctx, token)
	if err != nil {
		log.Printf("share: record failed attempt: %v", err)
		return cause
	}
	if exhausted {
		return errTooManyAttempts()
	}
	return cause
}

func (s *Service) resetAttempts(ctx context.Context, token string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Reset(ctx, token)
}

// --- Consent ---

func (s *Service) ConsentStatus(ctx context.Context, session Session, extra ...string) (map[string]any, error) {
	docTypes := consent.RequiredDocs(session.Role)
	for _, docType := range extra {
		docTypes = appendUnique(docTypes, docType)
	}
	missing, err := s.consent.Missing(ctx, session.UserID, docTypes)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"required":  docTypes,
		"missing":   missing,
		"satisfied": len(missing) == 0,
	}, nil
}

func (s *Service) RecordConsent(ctx context.Context, session Session, ip, userAgent string, grant consent.Grant) error {
	if err := s.consent.Record(ctx, session.UserID, session.Role, ip, userAgent, grant); err != nil {
		return errValidation(err.Error())
	}
	return nil
}

func (s *Service) RecordConsentBulk(ctx context.Context, session Session, ip, userAgent string, grants []consent.Grant) error {
	if err := s.consent.RecordBulk(ctx, session.UserID, session.Role, ip, userAgent, grants); err != nil {
		return errValidation(err.Error())
	}
	return nil
}

func (s *Service) ConsentHistory(ctx context.Context, session Session) ([]store.UserConsent, error) {
	return s.consent.History(ctx, session.UserID)
}

// ExportConsentsCSV writes the most recent consent records as CSV for
// compliance review. Admin only.
func (s *Service) ExportConsentsCSV(ctx context.Context, session Session, limit int) ([]byte, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, errForbidden("Admin role required")
	}
	consents, err := s.store.ListRecentConsents(ctx, limit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"user_id", "role", "document_type", "version", "ip_address", "user_agent", "consented_at"})
	for _, consent := range consents {
		_ = writer.Write([]string{
			consent.UserID,
			consent.Role,
			consent.DocumentType,
			consent.Version,
			consent.IPAddress,
			consent.UserAgent,
			consent.ConsentedAt.UTC().Format(time.RFC3339),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("write consents csv: %w", err)
	}
	return buf.Bytes(), nil
}

// --- Legal documents ---

// LatestLegalDocuments returns the latest published version of every document
// type, with the publication date substituted into the body.
func (s *Service) LatestLegalDocuments(ctx context.Context) ([]map[string]any, error) {
	docs, err := s.consent.Latest(ctx, consent.AllDocs())
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, docType := range consent.AllDocs() {
		doc, ok := docs[docType]
		if !ok {
			continue
		}
		items = append(items, map[string]any{
			"type":        doc.Type,
			"version":     doc.Version,
			"content":     consent.RenderContent(doc),
			"contentHash": doc.ContentHash,
			"publishedAt": doc.PublishedAt,
		})
	}
	return items, nil
}

// PublishLegalDocument stores a new version and commits the source text to
// the legal git repository. Admin only.
func (s *Service) PublishLegalDocument(ctx context.Context, session Session, docType, content string, bumpMajor bool) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, errForbidden("Admin role required")
	}
	if share.CollapseSpaces(content) == "" {
		return nil, errValidation("Document content is required")
	}
	doc, err := s.consent.Publish(ctx, docType, content, bumpMajor)
	if err != nil {
		return nil, errValidation(err.Error())
	}
	view := map[string]any{
		"type":    doc.Type,
		"version": doc.Version,
	}
	if s.legal != nil {
		commit, err := s.legal.CommitVersion(docType, content, doc.Version, session.UserName)
		if err != nil {
			log.Printf("legal: commit %s v%s source: %v", docType, doc.Version, err)
		} else {
			view["commit"] = commit
		}
	}
	return view, nil
}

// LegalDocumentHistory lists the git revisions of a document type's source
// text, newest first. Admin only.
func (s *Service) LegalDocumentHistory(ctx context.Context, session Session, docType string, limit int) ([]legalrepo.CommitInfo, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, errForbidden("Admin role required")
	}
	if s.legal == nil {
		return []legalrepo.CommitInfo{}, nil
	}
	history, err := s.legal.History(docType, limit)
	if err != nil {
		return nil, errNotFound("No published history for this document type")
	}
	return history, nil
}

// --- Agent search ---

func (s *Service) SearchAgents(ctx context.Context, session Session, query search.Query) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionSearchAgents) {
		return search.Response{}, errForbidden("Search requires a signed-in account")
	}
	return s.search.Search(query), nil
}

// --- views and codecs ---

func ownerShareView(record store.ProfileShare, now time.Time) map[string]any {
	view := map[string]any{
		"token":          record.Token,
		"recipientName":  record.RecipientName,
		"editable":       record.Editable,
		"status":         record.Status,
		"pendingStatus":  record.PendingStatus,
		"createdAt":      record.CreatedAt,
		"lastAccessedAt": record.LastAccessedAt,
	}
	if sections, err := decodeSections(record.Sections); err == nil {
		view["sections"] = sections
	}
	if record.AgentID != nil {
		view["agentId"] = *record.AgentID
	}
	if record.PendingAt != nil {
		view["pendingAt"] = *record.PendingAt
	}
	return view
}

func recipientShareView(record store.ProfileShare, customerName string) (map[string]any, error) {
	sections, err := decodeSections(record.Sections)
	if err != nil {
		return nil, err
	}
	snapshot, err := decodeForms(record.Snapshot)
	if err != nil {
		return nil, err
	}
	view := map[string]any{
		"token":         record.Token,
		"sections":      sections,
		"editable":      record.Editable,
		"status":        record.Status,
		"pendingStatus": record.PendingStatus,
		"snapshot":      snapshot,
	}
	if customerName != "" {
		view["customerName"] = customerName
	}
	return view, nil
}

func diffShareEdits(record store.ProfileShare) ([]map[string]any, error) {
	sections, err := decodeSections(record.Sections)
	if err != nil {
		return nil, err
	}
	baseline, err := decodeForms(record.Snapshot)
	if err != nil {
		return nil, err
	}
	proposed, err := decodePendingEdits(record.PendingEdits)
	if err != nil {
		return nil, err
	}
	entries := diff.Diff(baseline, proposed, sections.Keys())
	changes := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		changes = append(changes, map[string]any{
			"path":   entry.Path,
			"label":  entry.Label,
			"before": entry.Before,
			"after":  entry.After,
		})
	}
	return changes, nil
}

func decodeProfileForms(profileData string) (share.Forms, error) {
	if profileData == "" {
		return share.Forms{}, nil
	}
	var payload struct {
		Forms share.Forms `json:"forms"`
	}
	if err := json.Unmarshal([]byte(profileData), &payload); err != nil {
		return nil, fmt.Errorf("decode profile data: %w", err)
	}
	if payload.Forms == nil {
		payload.Forms = share.Forms{}
	}
	return payload.Forms, nil
}

func decodePendingEdits(pendingEdits string) (share.Forms, error) {
	return decodeProfileForms(pendingEdits)
}

func decodeForms(raw string) (share.Forms, error) {
	if raw == "" {
		return share.Forms{}, nil
	}
	forms := share.Forms{}
	if err := json.Unmarshal([]byte(raw), &forms); err != nil {
		return nil, fmt.Errorf("decode forms: %w", err)
	}
	return forms, nil
}

func decodeSections(raw string) (share.Sections, error) {
	var sections share.Sections
	if raw == "" {
		return sections, nil
	}
	if err := json.Unmarshal([]byte(raw), &sections); err != nil {
		return share.Sections{}, fmt.Errorf("decode sections: %w", err)
	}
	return sections, nil
}

func encodeJSON(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}
