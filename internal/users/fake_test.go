package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/notify"
	"github.com/learnhub/learnhub/internal/privacy"
	"github.com/learnhub/learnhub/internal/relationships"
)

type memRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*User
	profiles map[uuid.UUID]Profile
	settings map[uuid.UUID]privacy.Settings
	links    []*relationships.Link
	failOn   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    map[uuid.UUID]*User{},
		profiles: map[uuid.UUID]Profile{},
		settings: map[uuid.UUID]privacy.Settings{},
	}
}

func (m *memRepo) Create(_ context.Context, reg *Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	u := *reg.User
	m.users[u.ID] = &u
	m.profiles[u.ID] = reg.Profile
	m.settings[u.ID] = reg.Privacy
	if reg.ParentLink != nil {
		m.links = append(m.links, reg.ParentLink)
	}
	return nil
}

func (m *memRepo) find(match func(*User) bool) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id }), nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.EmailAddr() == email }), nil
}

func (m *memRepo) GetByPhone(_ context.Context, phone string) (*User, error) {
	return m.find(func(u *User) bool { return u.PhoneNumber() == phone }), nil
}

func (m *memRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	return m.find(func(u *User) bool { return u.Username == username }), nil
}

func (m *memRepo) CheckAvailable(ctx context.Context, email, phone, username string) error {
	if u, _ := m.GetByEmail(ctx, email); email != "" && u != nil {
		return ErrEmailTaken
	}
	if u, _ := m.GetByPhone(ctx, phone); phone != "" && u != nil {
		return ErrPhoneTaken
	}
	if u, _ := m.GetByUsername(ctx, username); u != nil {
		return ErrUsernameTaken
	}
	return nil
}

func (m *memRepo) EmployeeIDExists(_ context.Context, employeeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if tp, ok := p.(*TeacherProfile); ok && tp.EmployeeID == employeeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) GetRole(ctx context.Context, id uuid.UUID) (string, error) {
	u, _ := m.GetByID(ctx, id)
	if u == nil {
		return "", nil
	}
	return string(u.Role), nil
}

func (m *memRepo) GetProfile(_ context.Context, id uuid.UUID, _ Role) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id], nil
}

func (m *memRepo) UpdateProfile(_ context.Context, id uuid.UUID, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[id] = p
	return nil
}

func (m *memRepo) UpdateAccount(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *memRepo) SetVerified(_ context.Context, id uuid.UUID, kind auth.VerificationKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if kind == auth.VerifyPhone {
		u.IsPhoneVerified = true
	} else {
		u.IsEmailVerified = true
	}
	u.IsVerified = true
	return nil
}

func (m *memRepo) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memRepo) Contact(ctx context.Context, id uuid.UUID) (notify.Contact, error) {
	u, _ := m.GetByID(ctx, id)
	if u == nil {
		return notify.Contact{}, ErrUserNotFound
	}
	return notify.Contact{Email: u.EmailAddr(), Phone: u.PhoneNumber()}, nil
}

// settingsReader serves the settings captured at registration.
type settingsReader struct{ repo *memRepo }

func (s settingsReader) Get(_ context.Context, id uuid.UUID) (privacy.Settings, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	if st, ok := s.repo.settings[id]; ok {
		return st, nil
	}
	return privacy.DefaultSettings(id, false), nil
}

type staticLinks map[[2]uuid.UUID]bool

func (l staticLinks) HasLink(_ context.Context, a, b uuid.UUID) (bool, error) {
	return l[[2]uuid.UUID{a, b}] || l[[2]uuid.UUID{b, a}], nil
}

type message struct {
	channel  string
	to       string
	template string
	data     map[string]any
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []message
}

func (d *recordingDispatcher) SendEmail(_ context.Context, to string, _ uuid.UUID, template string, data map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, message{notify.ChannelEmail, to, template, data})
	return nil
}

func (d *recordingDispatcher) SendSMS(_ context.Context, to string, _ uuid.UUID, template string, data map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, message{notify.ChannelSMS, to, template, data})
	return nil
}

func (d *recordingDispatcher) last() message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

type referralCall struct{ referee, referrer uuid.UUID }

type recordingReferrals struct {
	mu    sync.Mutex
	calls []referralCall
}

func (r *recordingReferrals) GrantReferralBonuses(_ context.Context, referee, referrer uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, referralCall{referee, referrer})
	return nil
}

// codeVerifier accepts one fixed code for any secret.
type codeVerifier string

func (c codeVerifier) Verify(_, code string) bool { return string(c) == code }
