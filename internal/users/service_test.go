package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/notify"
	"github.com/learnhub/learnhub/internal/privacy"
	"github.com/learnhub/learnhub/internal/relationships"
)

const (
	testPassword = "Sup3r-secret"
	testKey      = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

type fixture struct {
	svc        *Service
	repo       *memRepo
	dispatcher *recordingDispatcher
	referrals  *recordingReferrals
	links      staticLinks
	redis      *miniredis.Miniredis
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	jwt := auth.NewJWTManager(
		"test-access-secret-32-chars-long!!",
		"test-refresh-secret-32-chars-long!",
		15*time.Minute, 7*24*time.Hour, 5*time.Minute)
	enc, err := auth.NewEncryptor(testKey)
	require.NoError(t, err)

	f := &fixture{
		repo:       newMemRepo(),
		dispatcher: &recordingDispatcher{},
		referrals:  &recordingReferrals{},
		links:      staticLinks{},
		redis:      mr,
		now:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Repo:       f.repo,
		Auth:       auth.NewService(jwt, client, time.Hour),
		Encryptor:  enc,
		Verifier:   codeVerifier("123456"),
		Privacy:    settingsReader{f.repo},
		Links:      f.links,
		Referrals:  f.referrals,
		Dispatcher: f.dispatcher,
		Now:        func() time.Time { return f.now },
	})
	return f
}

func registerReq(role Role, username string) RegisterRequest {
	return RegisterRequest{
		Role:      role,
		Email:     username + "@example.com",
		Username:  username,
		Password:  testPassword,
		FirstName: "Test",
	}
}

func (f *fixture) register(t *testing.T, req RegisterRequest) *RegisterResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestRegister_CreatesUserProfileAndSettings(t *testing.T) {
	f := newFixture(t)
	req := registerReq(RoleTeacher, "Grace")
	req.Email = "Grace@Example.com"
	req.Profile = json.RawMessage(`{"employee_id":"T-1","subjects":["math"],"years_of_experience":4,"is_verified_educator":true}`)

	res := f.register(t, req)
	assert.Equal(t, "grace", res.User.Username)
	assert.Equal(t, "grace@example.com", res.User.Email)
	assert.Equal(t, RoleTeacher, res.User.Role)
	assert.True(t, res.RequiresVerification)
	assert.Equal(t, "email: grace@example.com", res.VerificationSentTo)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)

	p := f.repo.profiles[res.User.ID].(*TeacherProfile)
	assert.Equal(t, "T-1", p.EmployeeID)
	assert.Equal(t, []string{"math"}, p.Subjects)

	st := f.repo.settings[res.User.ID]
	assert.Equal(t, privacy.ProfilePublic, st.ProfileVisibility)

	msg := f.dispatcher.last()
	assert.Equal(t, notify.ChannelEmail, msg.channel)
	assert.Equal(t, notify.TemplateVerifyEmail, msg.template)
	assert.NotEmpty(t, msg.data["token"])
}

func TestRegister_TokenFailureKeepsAccount(t *testing.T) {
	f := newFixture(t)
	f.redis.SetError("redis unavailable")

	res, err := f.svc.Register(context.Background(), registerReq(RoleStudent, "ada"))
	require.NoError(t, err)
	assert.Nil(t, res.Tokens)
	assert.Equal(t, "ada", res.User.Username)
	require.Contains(t, f.repo.users, res.User.ID)

	// Once Redis is back the account can log in instead of re-registering.
	f.redis.SetError("")
	login, err := f.svc.Login(context.Background(), LoginRequest{Identifier: "ada", Password: testPassword}, "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, login.Tokens)
	assert.NotEmpty(t, login.Tokens.AccessToken)

	_, err = f.svc.Register(context.Background(), registerReq(RoleStudent, "ada"))
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RegisterRequest)
		wantErr error
	}{
		{"admin self registration", func(r *RegisterRequest) { r.Role = RoleAdmin }, ErrAdminRegistration},
		{"unknown role", func(r *RegisterRequest) { r.Role = "robot" }, ErrInvalidRequest},
		{"no contact", func(r *RegisterRequest) { r.Email = "" }, ErrContactRequired},
		{"weak password", func(r *RegisterRequest) { r.Password = "password1" }, ErrWeakPassword},
		{"bad username", func(r *RegisterRequest) { r.Username = "no spaces" }, ErrInvalidRequest},
		{"future birth date", func(r *RegisterRequest) { r.DateOfBirth = "2030-01-01" }, ErrInvalidDateOfBirth},
		{"malformed profile", func(r *RegisterRequest) { r.Profile = json.RawMessage(`{"grade_level":7}`) }, ErrInvalidProfile},
		{"minor without parent", func(r *RegisterRequest) { r.DateOfBirth = "2014-05-01" }, ErrParentContactNeeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := registerReq(RoleStudent, "ada")
			tt.mutate(&req)
			_, err := f.svc.Register(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.repo.users)
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := registerReq(RoleTeacher, "grace")
	first.Phone = "+15550100"
	first.Profile = json.RawMessage(`{"employee_id":"T-1"}`)
	f.register(t, first)

	dupEmail := registerReq(RoleParent, "other")
	dupEmail.Email = "GRACE@example.com"
	_, err := f.svc.Register(ctx, dupEmail)
	assert.ErrorIs(t, err, ErrEmailTaken)

	dupPhone := registerReq(RoleParent, "other")
	dupPhone.Phone = "+15550100"
	_, err = f.svc.Register(ctx, dupPhone)
	assert.ErrorIs(t, err, ErrPhoneTaken)

	_, err = f.svc.Register(ctx, registerReq(RoleParent, "Grace"))
	assert.ErrorIs(t, err, ErrEmailTaken)

	dupUser := registerReq(RoleParent, "grace")
	dupUser.Email = "fresh@example.com"
	_, err = f.svc.Register(ctx, dupUser)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	dupEmployee := registerReq(RoleTeacher, "alan")
	dupEmployee.Profile = json.RawMessage(`{"employee_id":"T-1"}`)
	_, err = f.svc.Register(ctx, dupEmployee)
	assert.ErrorIs(t, err, ErrEmployeeIDTaken)
}

func TestRegister_MinorGetsPrivateDefaultsAndParentLink(t *testing.T) {
	f := newFixture(t)
	parent := f.register(t, registerReq(RoleParent, "mum"))

	req := registerReq(RoleStudent, "kid")
	req.DateOfBirth = "2014-05-01"
	req.Profile = json.RawMessage(`{"grade_level":"6","parent_email":"MUM@example.com"}`)
	res := f.register(t, req)

	assert.True(t, res.User.IsMinor)
	st := f.repo.settings[res.User.ID]
	assert.Equal(t, privacy.ProfilePrivate, st.ProfileVisibility)
	assert.False(t, st.SearchVisibility)
	for _, field := range privacy.MinorHidden.Fields() {
		assert.Equal(t, privacy.VisibilityPrivate, st.FieldVisibility[field], field.String())
	}

	require.Len(t, f.repo.links, 1)
	link := f.repo.links[0]
	assert.Equal(t, relationships.KindParentStudent, link.Kind)
	assert.Equal(t, res.User.ID, link.InviterID)
	assert.Equal(t, parent.User.ID, link.InviteeID)
	assert.Equal(t, relationships.StatusPending, link.Status)
	assert.True(t, link.IsPrimaryContact)
}

func TestRegister_MinorWithUnknownParentStillRegisters(t *testing.T) {
	f := newFixture(t)
	req := registerReq(RoleStudent, "kid")
	req.Profile = json.RawMessage(`{"is_minor":true,"parent_phone":"+15550199"}`)

	res := f.register(t, req)
	assert.True(t, res.User.IsMinor)
	assert.Empty(t, f.repo.links)
}

func TestRegister_PhoneOnlySendsSMS(t *testing.T) {
	f := newFixture(t)
	req := registerReq(RoleIndividual, "solo")
	req.Email = ""
	req.Phone = "+15550123"

	res := f.register(t, req)
	assert.Equal(t, "phone: +15550123", res.VerificationSentTo)
	msg := f.dispatcher.last()
	assert.Equal(t, notify.ChannelSMS, msg.channel)
	assert.Equal(t, notify.TemplateVerifyPhone, msg.template)
}

func TestRegister_Referral(t *testing.T) {
	f := newFixture(t)
	referrer := f.register(t, registerReq(RoleIndividual, "friend"))

	req := registerReq(RoleStudent, "newbie")
	req.ReferralCode = "FRIEND"
	res := f.register(t, req)

	require.Len(t, f.referrals.calls, 1)
	assert.Equal(t, referralCall{res.User.ID, referrer.User.ID}, f.referrals.calls[0])

	unknown := registerReq(RoleStudent, "another")
	unknown.ReferralCode = "nobody"
	f.register(t, unknown)
	assert.Len(t, f.referrals.calls, 1)
}

func TestClassifyIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		kind IdentifierKind
		norm string
	}{
		{"Ada@Example.com", IdentifierEmail, "ada@example.com"},
		{"+15550100", IdentifierPhone, "+15550100"},
		{"015550100", IdentifierPhone, "015550100"},
		{"Ada_L", IdentifierUsername, "ada_l"},
		{"ada99", IdentifierUsername, "ada99"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, norm := ClassifyIdentifier(tt.in)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.norm, norm)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := registerReq(RoleStudent, "ada")
	req.Phone = "+15550100"
	reg := f.register(t, req)

	for _, id := range []string{"ADA@example.com", "+15550100", "Ada"} {
		t.Run("by "+id, func(t *testing.T) {
			res, err := f.svc.Login(ctx, LoginRequest{Identifier: id, Password: testPassword}, "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, reg.User.ID, res.User.ID)
			assert.NotEmpty(t, res.Tokens.AccessToken)
			assert.Empty(t, res.Tokens.RefreshToken)
		})
	}

	t.Run("remember me issues refresh token", func(t *testing.T) {
		res, err := f.svc.Login(ctx, LoginRequest{Identifier: "ada", Password: testPassword, RememberMe: true}, "")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Tokens.RefreshToken)
		assert.NotNil(t, f.repo.users[reg.User.ID].LastLoginAt)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Login(ctx, LoginRequest{Identifier: "ada", Password: "Wrong-pass1"}, "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.Login(ctx, LoginRequest{Identifier: "nobody", Password: testPassword}, "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("suspended", func(t *testing.T) {
		f.repo.users[reg.User.ID].IsSuspended = true
		defer func() { f.repo.users[reg.User.ID].IsSuspended = false }()
		_, err := f.svc.Login(ctx, LoginRequest{Identifier: "ada", Password: testPassword}, "")
		assert.ErrorIs(t, err, ErrAccountSuspended)
	})

	t.Run("inactive", func(t *testing.T) {
		f.repo.users[reg.User.ID].IsActive = false
		defer func() { f.repo.users[reg.User.ID].IsActive = true }()
		_, err := f.svc.Login(ctx, LoginRequest{Identifier: "ada", Password: testPassword}, "")
		assert.ErrorIs(t, err, ErrAccountInactive)
	})
}

func TestTwoFactorFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, registerReq(RoleIndividual, "secure"))

	secret, err := f.svc.SetupTwoFactor(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	stored := f.repo.users[reg.User.ID].TwoFactorSecret
	require.NotNil(t, stored)
	assert.NotEqual(t, secret, *stored, "secret must be encrypted at rest")

	assert.ErrorIs(t, f.svc.ConfirmTwoFactor(ctx, reg.User.ID, "000000"), ErrInvalidTwoFactor)
	require.NoError(t, f.svc.ConfirmTwoFactor(ctx, reg.User.ID, "123456"))

	res, err := f.svc.Login(ctx, LoginRequest{Identifier: "secure", Password: testPassword}, "")
	require.NoError(t, err)
	assert.True(t, res.RequiresTwoFactor)
	assert.Nil(t, res.Tokens)
	require.NotEmpty(t, res.TempToken)

	_, err = f.svc.VerifyTwoFactor(ctx, res.TempToken, "999999", "")
	assert.ErrorIs(t, err, ErrInvalidTwoFactor)

	done, err := f.svc.VerifyTwoFactor(ctx, res.TempToken, "123456", "")
	require.NoError(t, err)
	assert.NotEmpty(t, done.Tokens.AccessToken)
	assert.NotEmpty(t, done.Tokens.RefreshToken)

	_, err = f.svc.VerifyTwoFactor(ctx, done.Tokens.AccessToken, "123456", "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, registerReq(RoleParent, "dad"))

	rotated, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Tokens.RefreshToken, rotated.RefreshToken)

	_, err = f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	require.NoError(t, f.svc.Logout(ctx, reg.User.ID))
	_, err = f.svc.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	_, err = f.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyAndResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, registerReq(RoleStudent, "ada"))
	token := f.dispatcher.last().data["token"].(string)

	require.NoError(t, f.svc.Verify(ctx, auth.VerifyEmail, token))
	u := f.repo.users[reg.User.ID]
	assert.True(t, u.IsEmailVerified)
	assert.True(t, u.IsVerified)
	assert.Equal(t, notify.TemplateWelcome, f.dispatcher.last().template)

	assert.ErrorIs(t, f.svc.Verify(ctx, auth.VerifyEmail, token), auth.ErrVerificationToken)

	_, err := f.svc.ResendVerification(ctx, reg.User.ID)
	assert.ErrorIs(t, err, ErrNothingToVerify)
}

func TestResendVerification_FallsBackToPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := registerReq(RoleStudent, "ada")
	req.Phone = "+15550100"
	reg := f.register(t, req)
	f.repo.users[reg.User.ID].IsEmailVerified = true

	sentTo, err := f.svc.ResendVerification(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "phone: +15550100", sentTo)
	assert.Equal(t, notify.ChannelSMS, f.dispatcher.last().channel)
}

func TestView_AppliesPrivacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.register(t, registerReq(RoleParent, "mum"))
	req := registerReq(RoleStudent, "kid")
	req.DateOfBirth = "2014-05-01"
	req.Profile = json.RawMessage(`{"grade_level":"6","gpa":"3.5","parent_email":"mum@example.com"}`)
	kid := f.register(t, req)
	stranger := uuid.New()

	anon, err := f.svc.View(ctx, nil, kid.User.ID)
	require.NoError(t, err)
	assert.Equal(t, privacy.AlwaysPublic.Len(), len(anon))

	out, err := f.svc.View(ctx, &stranger, kid.User.ID)
	require.NoError(t, err)
	assert.NotContains(t, out, privacy.FieldGradeLevel)

	f.links[[2]uuid.UUID{parent.User.ID, kid.User.ID}] = true
	connected, err := f.svc.View(ctx, &parent.User.ID, kid.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "6", connected[privacy.FieldGradeLevel])
	assert.NotContains(t, connected, privacy.FieldGPA)
	assert.NotContains(t, connected, privacy.FieldEmail)

	own, err := f.svc.View(ctx, &kid.User.ID, kid.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "3.50", own[privacy.FieldGPA])
	assert.Equal(t, "kid@example.com", own[privacy.FieldEmail])
	assert.NotContains(t, own, privacy.FieldPasswordHash)
}

func TestUpdateProfile_OwnVariantOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := registerReq(RoleTeacher, "grace")
	req.Profile = json.RawMessage(`{"employee_id":"T-1"}`)
	reg := f.register(t, req)
	f.repo.profiles[reg.User.ID].(*TeacherProfile).IsVerifiedEducator = true

	p, err := f.svc.UpdateProfile(ctx, reg.User.ID, json.RawMessage(`{"employee_id":"T-1","subjects":["physics"],"is_verified_educator":false}`))
	require.NoError(t, err)
	tp := p.(*TeacherProfile)
	assert.Equal(t, []string{"physics"}, tp.Subjects)
	assert.True(t, tp.IsVerifiedEducator, "verification flag is platform-owned")

	_, err = f.svc.UpdateProfile(ctx, reg.User.ID, json.RawMessage(`{"years_of_experience":-1}`))
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, registerReq(RoleIndividual, "solo"))

	bio := "lifelong learner"
	u, err := f.svc.UpdateAccount(ctx, reg.User.ID, AccountUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, u.Bio)
	assert.Equal(t, "Test", u.FirstName)

	bad := "not a url"
	_, err = f.svc.UpdateAccount(ctx, reg.User.ID, AccountUpdate{AvatarURL: &bad})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
