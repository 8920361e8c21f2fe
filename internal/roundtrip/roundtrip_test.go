package roundtrip

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sla = 2 * time.Second

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type stored struct {
	owner  string
	params domain.CreationParams
}

// memService is an in-process notify service whose scheduler sends every
// entry 100ms after it is due.
type memService struct {
	now      time.Time
	accounts map[string]string
	order    []string
	notes    map[string]stored
	seq      int

	// hooks for simulating a broken or compromised service
	rewriteSent time.Duration
	lateBy      time.Duration
}

func newMemService() *memService {
	return &memService{now: t0, accounts: map[string]string{}, notes: map[string]stored{}}
}

func (m *memService) clock() time.Time { return m.now }

func (m *memService) plan(p domain.CreationParams) []domain.PlanEntry {
	entries := plan.ForParams(p)
	for i := range entries {
		sent := entries[i].PlannedAt.Add(100*time.Millisecond + m.lateBy)
		if !m.now.Before(sent) {
			sent = sent.Add(m.rewriteSent)
			entries[i].SentAt = &sent
		}
	}
	return entries
}

func (m *memService) session() Session { return &memSession{svc: m} }

type memSession struct {
	svc  *memService
	user string
}

func (s *memSession) Register(_ context.Context, acct domain.Account) error {
	if _, ok := s.svc.accounts[acct.Username]; ok {
		return verdict.Rejected("POST /register returned unexpected status", "409")
	}
	s.svc.accounts[acct.Username] = acct.Password
	s.user = acct.Username
	return nil
}

func (s *memSession) Login(_ context.Context, acct domain.Account) error {
	if pw, ok := s.svc.accounts[acct.Username]; !ok || pw != acct.Password {
		return verdict.Rejected("POST /login returned unexpected status", "401")
	}
	s.user = acct.Username
	return nil
}

func (s *memSession) CreateNotification(_ context.Context, p domain.CreationParams) (string, error) {
	s.svc.seq++
	id := fmt.Sprintf("00000000-0000-4000-8000-%012d", s.svc.seq)
	s.svc.notes[id] = stored{owner: s.user, params: p}
	s.svc.order = append(s.svc.order, id)
	return id, nil
}

func (s *memSession) GetNotification(_ context.Context, id string) (domain.PublicView, error) {
	n, ok := s.svc.notes[id]
	if !ok {
		return domain.PublicView{}, verdict.Rejected("GET /notification/:id returned unexpected status", "404")
	}
	return domain.PublicView{Title: n.params.Title, Plan: s.svc.plan(n.params)}, nil
}

func (s *memSession) User(_ context.Context) (domain.UserInfo, error) {
	info := domain.UserInfo{Username: s.user, Notifications: []domain.PrivateView{}}
	for _, id := range s.svc.order {
		n := s.svc.notes[id]
		if n.owner != s.user {
			continue
		}
		info.Notifications = append(info.Notifications, domain.PrivateView{
			ID: id, Title: n.params.Title, Content: n.params.Content, Plan: s.svc.plan(n.params),
		})
	}
	return info, nil
}

func seeds(n int) []Seed {
	out := make([]Seed, n)
	for i := range out {
		out[i] = Seed{
			Params: domain.NewCreationParams(fmt.Sprintf("title-%d", i), fmt.Sprintf("content %d FLAG", i),
				t0.Add(time.Duration(5+i)*time.Second), &domain.RepeatSpec{Count: 3, Interval: 30 * time.Second}),
			Secret: i%2 == 0,
		}
	}
	return out
}

func plantN(t *testing.T, svc *memService, n int) Token {
	t.Helper()
	tok, rec, err := NewPlanter(svc.session, sla, svc.clock).
		Plant(context.Background(), domain.Account{Username: "alice", Password: "hunter22"}, seeds(n))
	require.NoError(t, err)
	require.Len(t, rec.Notifications, n)
	return tok
}

func verifier(svc *memService) *Verifier {
	return NewVerifier(svc.session, VerifierConfig{SLA: sla, MaxAge: 11 * time.Minute, Now: svc.clock})
}

func TestPlantVerify_RoundTrip(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d notifications", n), func(t *testing.T) {
			svc := newMemService()
			tok := plantN(t, svc, n)

			ids, err := DecodePublic(tok.Public)
			require.NoError(t, err)
			assert.Len(t, ids, (n+1)/2)

			// the verifier runs much later, with all firings behind it
			svc.now = t0.Add(3 * time.Minute)
			rec, err := verifier(svc).Verify(context.Background(), tok)
			require.NoError(t, err)
			assert.Len(t, rec.Notifications, n)
		})
	}
}

func TestPlant_RequiresSecret(t *testing.T) {
	svc := newMemService()
	s := seeds(2)
	s[0].Secret = false

	_, _, err := NewPlanter(svc.session, sla, svc.clock).Plant(context.Background(), domain.Account{Username: "a", Password: "b"}, s)
	assert.ErrorIs(t, err, ErrNoSecret)
	assert.Empty(t, svc.accounts, "nothing is registered")
}

func TestPlant_RegistrationRejected(t *testing.T) {
	svc := newMemService()
	svc.accounts["alice"] = "taken"

	_, _, err := NewPlanter(svc.session, sla, svc.clock).Plant(context.Background(), domain.Account{Username: "alice", Password: "x"}, seeds(1))
	assert.True(t, verdict.IsKind(err, verdict.KindRejected))
}

func TestVerify_LostData(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(svc *memService)
		rule   verdict.Rule
	}{
		{
			name: "content altered",
			tamper: func(svc *memService) {
				id := svc.order[0]
				n := svc.notes[id]
				n.params.Content = "wiped"
				svc.notes[id] = n
			},
			rule: verdict.RuleContent,
		},
		{
			name: "title altered",
			tamper: func(svc *memService) {
				id := svc.order[1]
				n := svc.notes[id]
				n.params.Title = "other"
				svc.notes[id] = n
			},
			rule: verdict.RuleTitle,
		},
		{
			name: "schedule altered",
			tamper: func(svc *memService) {
				id := svc.order[0]
				n := svc.notes[id]
				n.params.Repeat = &domain.RepeatSpec{Count: 2, Interval: 30 * time.Second}
				svc.notes[id] = n
			},
			rule: verdict.RuleSchedule,
		},
		{
			name:   "password changed",
			tamper: func(svc *memService) { svc.accounts["alice"] = "reset" },
		},
		{
			name: "notification deleted",
			tamper: func(svc *memService) {
				delete(svc.notes, svc.order[1])
			},
		},
		{
			name: "notification handed to another user",
			tamper: func(svc *memService) {
				id := svc.order[0]
				n := svc.notes[id]
				n.owner = "mallory"
				svc.notes[id] = n
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMemService()
			tok := plantN(t, svc, 2)
			svc.now = t0.Add(3 * time.Minute)
			tt.tamper(svc)

			_, err := verifier(svc).Verify(context.Background(), tok)

			e, ok := verdict.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, verdict.KindLost, e.Kind)
			assert.Equal(t, verdict.StatusCorrupt, verdict.StatusOf(err))
			if tt.rule != verdict.RuleNone {
				assert.Equal(t, tt.rule, e.Rule)
			}
		})
	}
}

func TestVerify_TimingStaysConformance(t *testing.T) {
	svc := newMemService()
	tok := plantN(t, svc, 1)

	// the scheduler stalled: the first firing is overdue and unsent
	svc.lateBy = time.Hour
	svc.now = t0.Add(30 * time.Second)

	_, err := verifier(svc).Verify(context.Background(), tok)

	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.KindConformance, e.Kind)
	assert.Equal(t, verdict.RuleSLA, e.Rule)
	assert.Equal(t, verdict.StatusMumble, verdict.StatusOf(err))
}

func TestVerify_SentEarlyStaysConformance(t *testing.T) {
	svc := newMemService()
	tok := plantN(t, svc, 1)
	svc.rewriteSent = -time.Second
	svc.now = t0.Add(3 * time.Minute)

	_, err := verifier(svc).Verify(context.Background(), tok)
	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.KindConformance, e.Kind)
	assert.Equal(t, verdict.RuleSentEarly, e.Rule)
}

func TestVerify_Expired(t *testing.T) {
	svc := newMemService()
	tok := plantN(t, svc, 1)
	svc.now = t0.Add(time.Hour)

	_, err := verifier(svc).Verify(context.Background(), tok)

	assert.ErrorIs(t, err, ErrExpired)
	assert.True(t, verdict.IsKind(err, verdict.KindProtocol))
}

func TestVerify_BadToken(t *testing.T) {
	svc := newMemService()
	_, err := verifier(svc).Verify(context.Background(), Token{Public: "[]", Private: "garbage!"})
	assert.True(t, verdict.IsKind(err, verdict.KindProtocol))
}
