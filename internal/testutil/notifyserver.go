package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/notifyapi"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
)

const wireTimeLayout = "2006-01-02T15:04:05.000000-07:00"

// Faults switch deliberate misbehaviour on in a NotifyServer.
type Faults struct {
	EarlySend   bool // send 300ms before planned_at
	DropSends   bool // never send anything
	RewriteSent bool // shift every reported sent_at by 1ms per request
	LoseContent bool // blank content in GET /user
	ServerError bool // answer 500 everywhere
	SkipMail    bool // mark entries sent without mailing them
	WrongSender bool // mail from an unexpected address
}

type fakeAccount struct {
	password string
	ids      []string
}

type fakeNotification struct {
	id      string
	owner   string
	title   string
	content string
	plan    []domain.PlanEntry
}

// NotifyServer is an in-process notification service speaking the real wire
// format. Scheduling is evaluated lazily on every request against clock, and
// each firing is mailed to the owner's Mailbox.
type NotifyServer struct {
	srv   *httptest.Server
	clock interface{ Now() time.Time }
	mail  *Mailbox

	// SendDelay is how long after planned_at a firing is sent.
	SendDelay time.Duration
	Sender    string

	mu       sync.Mutex
	faults   Faults
	accounts map[string]*fakeAccount
	sessions map[string]string
	notes    map[string]*fakeNotification
	order    []string
	hits     map[string]int
}

// NewNotifyServer starts a server that is closed when the test completes.
func NewNotifyServer(t *testing.T, clock interface{ Now() time.Time }) *NotifyServer {
	t.Helper()
	s := &NotifyServer{
		clock:     clock,
		SendDelay: 100 * time.Millisecond,
		Sender:    "notifier@notify",
		accounts:  make(map[string]*fakeAccount),
		sessions:  make(map[string]string),
		notes:     make(map[string]*fakeNotification),
		hits:      make(map[string]int),
	}
	s.mail = newMailbox(s.checkPassword)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/notifications", s.handleCreate)
	mux.HandleFunc("GET /api/notification/{id}", s.handleGet)
	mux.HandleFunc("GET /api/user", s.handleUser)

	s.srv = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.srv.Close)
	return s
}

// Config returns a client configuration pointing at the server.
func (s *NotifyServer) Config(t *testing.T) notifyapi.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(s.srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("parsing listener address: %v", err)
	}
	cfg := notifyapi.DefaultConfig(host)
	if cfg.Port, err = strconv.Atoi(port); err != nil {
		t.Fatalf("parsing listener port: %v", err)
	}
	cfg.RatePerSec = 0
	return cfg
}

// Sessions returns a factory of real API sessions against the server.
func (s *NotifyServer) Sessions(t *testing.T) roundtrip.SessionFactory {
	t.Helper()
	c, err := notifyapi.NewClient(s.Config(t), notifyapi.NoopObserver{})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return func() roundtrip.Session { return c.NewSession() }
}

// Mail returns the inbox the server delivers to.
func (s *NotifyServer) Mail() *Mailbox { return s.mail }

// SetFaults replaces the active faults.
func (s *NotifyServer) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// Forget drops an account and everything it owns.
func (s *NotifyServer) Forget(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	if !ok {
		return
	}
	for _, id := range acct.ids {
		delete(s.notes, id)
	}
	delete(s.accounts, username)
}

// SetContent overwrites a stored notification's content.
func (s *NotifyServer) SetContent(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[id]; ok {
		n.content = content
	}
}

// Hits returns how many requests matched pattern, e.g. "GET /api/user".
func (s *NotifyServer) Hits(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[pattern]
}

func (s *NotifyServer) middleware(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)

		s.mu.Lock()
		s.hits[pattern]++
		s.tick(s.clock.Now())
		failing := s.faults.ServerError
		s.mu.Unlock()

		if failing {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tick sends every firing that is due. Callers hold s.mu.
func (s *NotifyServer) tick(now time.Time) {
	delay := s.SendDelay
	if s.faults.EarlySend {
		delay = -300 * time.Millisecond
	}
	from := s.Sender
	if s.faults.WrongSender {
		from = "postmaster@elsewhere"
	}

	for _, id := range s.order {
		n, ok := s.notes[id]
		if !ok {
			continue
		}
		for i := range n.plan {
			e := &n.plan[i]
			if e.SentAt != nil {
				if s.faults.RewriteSent {
					shifted := e.SentAt.Add(time.Millisecond)
					e.SentAt = &shifted
				}
				continue
			}
			sendAt := e.PlannedAt.Add(delay)
			if s.faults.DropSends || now.Before(sendAt) {
				continue
			}
			e.SentAt = &sendAt
			if !s.faults.SkipMail {
				s.mail.Deliver(n.owner, domain.Email{From: from, Subject: n.title, Text: n.content})
			}
		}
	}
}

func (s *NotifyServer) checkPassword(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	return ok && acct.password == password
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *NotifyServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Username]; exists {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	s.accounts[body.Username] = &fakeAccount{password: body.Password}
	s.startSession(w, body.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"username": body.Username})
}

func (s *NotifyServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[body.Username]
	if !ok || acct.password != body.Password {
		writeError(w, http.StatusUnauthorized, "wrong username or password")
		return
	}
	s.startSession(w, body.Username)
	writeJSON(w, http.StatusOK, map[string]string{"username": body.Username})
}

func (s *NotifyServer) startSession(w http.ResponseWriter, username string) {
	token := uuid.NewString()
	s.sessions[token] = username
	http.SetCookie(w, &http.Cookie{Name: notifyapi.SessionCookie, Value: token, Path: "/", HttpOnly: true})
}

// currentUser resolves the session cookie. Callers hold s.mu.
func (s *NotifyServer) currentUser(r *http.Request) (string, bool) {
	ck, err := r.Cookie(notifyapi.SessionCookie)
	if err != nil {
		return "", false
	}
	username, ok := s.sessions[ck.Value]
	if !ok {
		return "", false
	}
	_, exists := s.accounts[username]
	return username, exists
}

type createBody struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	NotifyAt    string `json:"notify_at"`
	Repetitions *struct {
		Count    int   `json:"count"`
		Interval int64 `json:"interval"`
	} `json:"repetitions"`
}

func (s *NotifyServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid notification")
		return
	}
	notifyAt, err := time.Parse(time.RFC3339Nano, body.NotifyAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notify_at")
		return
	}
	var repeat *domain.RepeatSpec
	if rep := body.Repetitions; rep != nil {
		if rep.Count < 0 || rep.Interval <= 0 {
			writeError(w, http.StatusBadRequest, "invalid repetitions")
			return
		}
		repeat = &domain.RepeatSpec{Count: rep.Count, Interval: time.Duration(rep.Interval) * time.Second}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	n := &fakeNotification{
		id:      uuid.NewString(),
		owner:   owner,
		title:   body.Title,
		content: body.Content,
		plan:    plan.Compute(notifyAt.UTC(), repeat),
	}
	s.notes[n.id] = n
	s.order = append(s.order, n.id)
	s.accounts[owner].ids = append(s.accounts[owner].ids, n.id)
	writeJSON(w, http.StatusCreated, map[string]string{"notification_id": n.id})
}

func (s *NotifyServer) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"title": n.title, "plan": wirePlan(n.plan)})
}

func (s *NotifyServer) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	items := []map[string]any{}
	for _, id := range s.accounts[username].ids {
		n := s.notes[id]
		content := n.content
		if s.faults.LoseContent {
			content = ""
		}
		items = append(items, map[string]any{
			"id":      n.id,
			"title":   n.title,
			"content": content,
			"plan":    wirePlan(n.plan),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "notifications": items})
}

func wirePlan(entries []domain.PlanEntry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		var sent any
		if e.SentAt != nil {
			sent = e.SentAt.UTC().Format(wireTimeLayout)
		}
		out[i] = map[string]any{
			"planned_at": e.PlannedAt.UTC().Format(wireTimeLayout),
			"sent_at":    sent,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
