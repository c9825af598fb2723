package users

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/notify"
	"github.com/learnhub/learnhub/internal/privacy"
	"github.com/learnhub/learnhub/internal/relationships"
)

const adultAge = 18

// ReferralGranter credits both sides of a referral.
type ReferralGranter interface {
	GrantReferralBonuses(ctx context.Context, refereeID, referrerID uuid.UUID) error
}

// SettingsReader loads a user's privacy settings.
type SettingsReader interface {
	Get(ctx context.Context, userID uuid.UUID) (privacy.Settings, error)
}

// LinkChecker reports whether two users are connected.
type LinkChecker interface {
	HasLink(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// Deps collects the collaborators of Service. Audit, Dispatcher, Verifier
// and Referrals may be nil.
type Deps struct {
	Repo       Repository
	Auth       *auth.Service
	Encryptor  *auth.Encryptor
	Verifier   auth.CodeVerifier
	Privacy    SettingsReader
	Links      LinkChecker
	Referrals  ReferralGranter
	Audit      audit.Recorder
	Dispatcher notify.Dispatcher
	Now        func() time.Time
}

type Service struct {
	repo       Repository
	auth       *auth.Service
	encryptor  *auth.Encryptor
	verifier   auth.CodeVerifier
	privacy    SettingsReader
	links      LinkChecker
	referrals  ReferralGranter
	audit      audit.Recorder
	dispatcher notify.Dispatcher
	validate   *validator.Validate
	now        func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:       d.Repo,
		auth:       d.Auth,
		encryptor:  d.Encryptor,
		verifier:   d.Verifier,
		privacy:    d.Privacy,
		links:      d.Links,
		referrals:  d.Referrals,
		audit:      d.Audit,
		dispatcher: d.Dispatcher,
		validate:   newValidator(),
		now:        d.Now,
	}
	if s.verifier == nil {
		s.verifier = auth.RejectAllVerifier{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.NopDispatcher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterRequest struct {
	Role         Role            `json:"user_type" validate:"required,oneof=student teacher parent individual admin"`
	Email        string          `json:"email" validate:"omitempty,email,max=255"`
	Phone        string          `json:"phone_number" validate:"omitempty,e164"`
	Username     string          `json:"username" validate:"required,min=3,max=50,username"`
	Password     string          `json:"password" validate:"required,min=8,max=100"`
	FirstName    string          `json:"first_name" validate:"required,min=1,max=100"`
	LastName     string          `json:"last_name" validate:"max=100"`
	DateOfBirth  string          `json:"date_of_birth,omitempty"`
	ReferralCode string          `json:"referral_code,omitempty" validate:"max=50"`
	Profile      json.RawMessage `json:"profile,omitempty"`
}

type RegisterResult struct {
	User                 Summary         `json:"user"`
	Tokens               *auth.TokenPair `json:"tokens,omitempty"`
	RequiresVerification bool            `json:"requires_verification"`
	VerificationSentTo   string          `json:"verification_sent_to,omitempty"`
}

type LoginResult struct {
	User              *Summary        `json:"user,omitempty"`
	Tokens            *auth.TokenPair `json:"tokens,omitempty"`
	RequiresTwoFactor bool            `json:"requires_2fa"`
	TempToken         string          `json:"temp_token,omitempty"`
}

// Register creates the user, its role profile, default privacy settings and,
// for a minor naming an existing parent, a pending parent link in one
// transaction. Verification and referral side effects run after commit and
// never fail the registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.Role == RoleAdmin {
		return nil, ErrAdminRegistration
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Email == "" && req.Phone == "" {
		return nil, ErrContactRequired
	}
	if !strongPassword(req.Password) {
		return nil, ErrWeakPassword
	}

	now := s.now().UTC()
	var dob *time.Time
	if req.DateOfBirth != "" {
		d, err := time.Parse(time.DateOnly, req.DateOfBirth)
		if err != nil || !d.Before(now) {
			return nil, ErrInvalidDateOfBirth
		}
		dob = &d
	}

	profile, err := DecodeProfile(req.Role, req.Profile)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	minor := false
	if sp, ok := profile.(*StudentProfile); ok {
		sp.ParentEmail = strings.ToLower(strings.TrimSpace(sp.ParentEmail))
		sp.IsMinor = sp.IsMinor || (dob != nil && ageOn(*dob, now) < adultAge)
		minor = sp.IsMinor
		if minor && sp.ParentEmail == "" && sp.ParentPhone == "" {
			return nil, ErrParentContactNeeded
		}
	}

	if err := s.repo.CheckAvailable(ctx, req.Email, req.Phone, req.Username); err != nil {
		return nil, err
	}
	if tp, ok := profile.(*TeacherProfile); ok && tp.EmployeeID != "" {
		taken, err := s.repo.EmployeeIDExists(ctx, tp.EmployeeID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrEmployeeIDTaken
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		DateOfBirth:  dob,
		Role:         req.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Email != "" {
		u.Email = &req.Email
	}
	if req.Phone != "" {
		u.Phone = &req.Phone
	}

	reg := &Registration{
		User:    u,
		Profile: profile,
		Privacy: privacy.DefaultSettings(u.ID, minor),
	}
	if sp, ok := profile.(*StudentProfile); ok && minor {
		reg.ParentLink, err = s.parentLink(ctx, u.ID, sp, now)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, reg); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:       u.ID,
		Type:         audit.EventUserRegistered,
		ResourceType: "user",
		ResourceID:   u.ID.String(),
		Details:      map[string]any{"role": u.Role, "minor": minor},
	})
	sentTo := s.sendVerification(ctx, u)
	if req.ReferralCode != "" {
		s.applyReferral(ctx, u.ID, req.ReferralCode)
	}

	// The account exists from here on; without tokens the client logs in.
	tokens, err := s.auth.IssueTokens(ctx, u.Identity(), true)
	if err != nil {
		slog.Error("issuing tokens after registration", "error", err, "user_id", u.ID)
		tokens = nil
	}

	summary := u.Summary()
	summary.IsMinor = minor
	return &RegisterResult{
		User:                 summary,
		Tokens:               tokens,
		RequiresVerification: true,
		VerificationSentTo:   sentTo,
	}, nil
}

// parentLink returns a pending link from the student to the named parent, or
// nil when no parent account matches.
func (s *Service) parentLink(ctx context.Context, studentID uuid.UUID, sp *StudentProfile, now time.Time) (*relationships.Link, error) {
	var (
		parent *User
		err    error
	)
	if sp.ParentEmail != "" {
		parent, err = s.repo.GetByEmail(ctx, sp.ParentEmail)
	} else {
		parent, err = s.repo.GetByPhone(ctx, sp.ParentPhone)
	}
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Role != RoleParent {
		return nil, nil
	}

	link, err := relationships.NewLink(relationships.KindParentStudent, studentID, parent.ID, "", now)
	if err != nil {
		return nil, err
	}
	link.IsPrimaryContact = true
	return link, nil
}

// applyReferral credits the new user and the referrer named by code. Failures
// are logged only.
func (s *Service) applyReferral(ctx context.Context, refereeID uuid.UUID, code string) {
	if s.referrals == nil {
		return
	}
	referrer, err := s.repo.GetByUsername(ctx, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		slog.Warn("resolving referral code", "error", err, "user_id", refereeID)
		return
	}
	if referrer == nil || referrer.ID == refereeID {
		slog.Info("ignoring unknown referral code", "user_id", refereeID, "code", code)
		return
	}
	if err := s.referrals.GrantReferralBonuses(ctx, refereeID, referrer.ID); err != nil {
		slog.Warn("granting referral bonuses", "error", err, "user_id", refereeID, "referrer_id", referrer.ID)
	}
}

// sendVerification issues a token for the first unverified channel and hands
// it to the dispatcher. It returns a description of where it was sent.
func (s *Service) sendVerification(ctx context.Context, u *User) string {
	var (
		kind     auth.VerificationKind
		template string
		contact  notify.Contact
		sentTo   string
	)
	switch {
	case u.Email != nil && !u.IsEmailVerified:
		kind, template = auth.VerifyEmail, notify.TemplateVerifyEmail
		contact.Email = *u.Email
		sentTo = "email: " + *u.Email
	case u.Phone != nil && !u.IsPhoneVerified:
		kind, template = auth.VerifyPhone, notify.TemplateVerifyPhone
		contact.Phone = *u.Phone
		sentTo = "phone: " + *u.Phone
	default:
		return ""
	}

	token, err := s.auth.IssueVerificationToken(ctx, kind, u.ID.String())
	if err != nil {
		slog.Warn("issuing verification token", "error", err, "user_id", u.ID)
		return ""
	}
	if err := notify.Send(ctx, s.dispatcher, contact, u.ID, template, map[string]any{"token": token}); err != nil {
		slog.Warn("sending verification", "error", err, "user_id", u.ID)
	}
	return sentTo
}

// IdentifierKind says which column a login identifier matches.
type IdentifierKind int

const (
	IdentifierUsername IdentifierKind = iota
	IdentifierEmail
	IdentifierPhone
)

// ClassifyIdentifier decides whether s is an e-mail, a phone number or a
// username and normalizes it for lookup.
func ClassifyIdentifier(s string) (IdentifierKind, string) {
	s = strings.TrimSpace(s)
	switch {
	case strings.Contains(s, "@"):
		return IdentifierEmail, strings.ToLower(s)
	case strings.HasPrefix(s, "+") || (s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0):
		return IdentifierPhone, s
	}
	return IdentifierUsername, strings.ToLower(s)
}

func (s *Service) lookup(ctx context.Context, identifier string) (*User, error) {
	kind, value := ClassifyIdentifier(identifier)
	switch kind {
	case IdentifierEmail:
		return s.repo.GetByEmail(ctx, value)
	case IdentifierPhone:
		return s.repo.GetByPhone(ctx, value)
	}
	return s.repo.GetByUsername(ctx, value)
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,min=3,max=255"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

func (s *Service) Login(ctx context.Context, req LoginRequest, ip string) (*LoginResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	u, err := s.lookup(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	hash := ""
	if u != nil {
		hash = u.PasswordHash
	}
	if err := auth.ComparePassword(hash, req.Password); err != nil || u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := checkStanding(u); err != nil {
		return nil, err
	}

	if u.TwoFactorEnabled {
		temp, err := s.auth.IssueTwoFactorToken(u.ID.String())
		if err != nil {
			return nil, err
		}
		return &LoginResult{RequiresTwoFactor: true, TempToken: temp}, nil
	}

	tokens, err := s.auth.IssueTokens(ctx, u.Identity(), req.RememberMe)
	if err != nil {
		return nil, err
	}
	s.afterLogin(ctx, u, ip, "password")
	summary := u.Summary()
	return &LoginResult{User: &summary, Tokens: tokens}, nil
}

func checkStanding(u *User) error {
	if !u.IsActive {
		return ErrAccountInactive
	}
	if u.IsSuspended {
		return ErrAccountSuspended
	}
	return nil
}

func (s *Service) afterLogin(ctx context.Context, u *User, ip, method string) {
	now := s.now().UTC()
	if err := s.repo.TouchLastLogin(ctx, u.ID, now); err != nil {
		slog.Warn("recording last login", "error", err, "user_id", u.ID)
	}
	u.LastLoginAt = &now
	s.audit.Record(ctx, audit.Event{
		UserID:    u.ID,
		Type:      audit.EventUserLogin,
		IPAddress: ip,
		Details:   map[string]any{"method": method},
	})
}

// VerifyTwoFactor completes a login that stopped at the 2FA challenge.
func (s *Service) VerifyTwoFactor(ctx context.Context, tempToken, code, ip string) (*LoginResult, error) {
	claims, err := s.auth.ValidateTwoFactorToken(tempToken)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if err := checkStanding(u); err != nil {
		return nil, err
	}
	if !u.TwoFactorEnabled || u.TwoFactorSecret == nil {
		return nil, ErrInvalidTwoFactor
	}

	secret, err := s.encryptor.Open(*u.TwoFactorSecret, u.ID[:])
	if err != nil {
		return nil, fmt.Errorf("decrypting two-factor secret: %w", err)
	}
	if !s.verifier.Verify(secret, code) {
		return nil, ErrInvalidTwoFactor
	}

	tokens, err := s.auth.IssueTokens(ctx, u.Identity(), true)
	if err != nil {
		return nil, err
	}
	s.afterLogin(ctx, u, ip, "two_factor")
	summary := u.Summary()
	return &LoginResult{User: &summary, Tokens: tokens}, nil
}

// SetupTwoFactor stores a new encrypted secret without enabling it and
// returns the plaintext for the user's authenticator.
func (s *Service) SetupTwoFactor(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating two-factor secret: %w", err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	sealed, err := s.encryptor.Seal(secret, u.ID[:])
	if err != nil {
		return "", err
	}

	u.TwoFactorSecret = &sealed
	u.TwoFactorEnabled = false
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateAccount(ctx, u); err != nil {
		return "", err
	}
	return secret, nil
}

// ConfirmTwoFactor enables 2FA once the user proves they hold the secret.
func (s *Service) ConfirmTwoFactor(ctx context.Context, userID uuid.UUID, code string) error {
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorSecret == nil {
		return ErrInvalidTwoFactor
	}
	secret, err := s.encryptor.Open(*u.TwoFactorSecret, u.ID[:])
	if err != nil {
		return fmt.Errorf("decrypting two-factor secret: %w", err)
	}
	if !s.verifier.Verify(secret, code) {
		return ErrInvalidTwoFactor
	}
	u.TwoFactorEnabled = true
	u.UpdatedAt = s.now().UTC()
	return s.repo.UpdateAccount(ctx, u)
}

// Refresh rotates a refresh token. The user must still be in good standing.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.auth.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, auth.ErrSessionRevoked
	}
	if err := checkStanding(u); err != nil {
		return nil, err
	}
	return s.auth.RotateRefreshToken(ctx, claims, u.Identity())
}

func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.auth.Logout(ctx, userID.String())
}

// Verify consumes a verification token and marks the channel verified.
func (s *Service) Verify(ctx context.Context, kind auth.VerificationKind, token string) error {
	raw, err := s.auth.ConsumeVerificationToken(ctx, kind, token)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return auth.ErrVerificationToken
	}
	if err := s.repo.SetVerified(ctx, id, kind); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:  id,
		Type:    audit.EventUserVerified,
		Details: map[string]any{"channel": kind},
	})
	if c, err := s.repo.Contact(ctx, id); err == nil {
		if err := notify.Send(ctx, s.dispatcher, c, id, notify.TemplateWelcome, nil); err != nil {
			slog.Warn("sending welcome", "error", err, "user_id", id)
		}
	}
	return nil
}

// ResendVerification issues a fresh token for the first unverified channel.
func (s *Service) ResendVerification(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return "", err
	}
	sentTo := s.sendVerification(ctx, u)
	if sentTo == "" {
		return "", ErrNothingToVerify
	}
	return sentTo, nil
}

func (s *Service) mustGet(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// GetRole satisfies relationships.RoleLookup.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (string, error) {
	return s.repo.GetRole(ctx, id)
}

func ageOn(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func strongPassword(p string) bool {
	var upper, lower, digit, symbol bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
