// Package notifyapi is the HTTP transport for the notify service API.
// Every failure it returns is a verdict error: outages, unexpected statuses
// and malformed payloads are classified here so callers never see raw
// transport errors.
package notifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"golang.org/x/time/rate"
)

// Endpoint names, as used in operator-facing messages.
const (
	EndpointRegister = "POST /register"
	EndpointLogin    = "POST /login"
	EndpointCreate   = "POST /notifications"
	EndpointGet      = "GET /notification/:id"
	EndpointUser     = "GET /user"
)

// SessionCookie is the cookie the service authenticates with.
const SessionCookie = "notify_session"

// Client holds the transport shared by all sessions against one host.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	limiter   *rate.Limiter
	observer  Observer
}

// NewClient creates a Client for cfg.Host.
func NewClient(cfg Config, observer Observer) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	return &Client{
		cfg: cfg,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.RequestTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
		},
		limiter:  rate.NewLimiter(limit, burst),
		observer: observer,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// NewSession opens a session with its own empty cookie jar. A session that
// never registers or logs in acts as an anonymous caller.
func (c *Client) NewSession() *Session {
	// cookiejar.New only fails on a broken PublicSuffixList; nil is fine.
	jar, _ := cookiejar.New(nil)
	return &Session{
		c:    c,
		http: &http.Client{Transport: c.transport, Jar: jar},
	}
}

// Session is one cookie jar talking to the service.
type Session struct {
	c    *Client
	http *http.Client
	user string
}

// Username returns the account this session authenticated as, if any.
func (s *Session) Username() string { return s.user }

type call struct {
	endpoint   string
	method     string
	path       string
	body       any
	want       int
	timeout    time.Duration
	idempotent bool
}

type result struct {
	status  int
	body    []byte
	cookies []*http.Cookie
}

// Register creates acct and stores the session cookie.
func (s *Session) Register(ctx context.Context, acct domain.Account) error {
	return s.authenticate(ctx, EndpointRegister, "register", http.StatusCreated, acct)
}

// Login authenticates as acct and stores the session cookie.
func (s *Session) Login(ctx context.Context, acct domain.Account) error {
	return s.authenticate(ctx, EndpointLogin, "login", http.StatusOK, acct)
}

func (s *Session) authenticate(ctx context.Context, endpoint, path string, want int, acct domain.Account) error {
	res, err := s.do(ctx, call{
		endpoint: endpoint,
		method:   http.MethodPost,
		path:     path,
		body:     credentials{Username: acct.Username, Password: acct.Password},
		want:     want,
		timeout:  s.c.cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}
	for _, ck := range res.cookies {
		if ck.Name == SessionCookie {
			s.user = acct.Username
			return nil
		}
	}
	return verdict.Wrap(verdict.KindProtocol, endpoint+" didn't return session", ErrNoSession)
}

// CreateNotification creates a notification owned by the session's account
// and returns its ID.
func (s *Session) CreateNotification(ctx context.Context, p domain.CreationParams) (string, error) {
	res, err := s.do(ctx, call{
		endpoint: EndpointCreate,
		method:   http.MethodPost,
		path:     "notifications",
		body:     newCreateRequest(p),
		want:     http.StatusCreated,
		timeout:  s.c.cfg.RequestTimeout,
	})
	if err != nil {
		return "", err
	}
	obj, err := decodeObject(res.body, EndpointCreate)
	if err != nil {
		return "", err
	}
	return parseCreated(obj, EndpointCreate+" response")
}

// GetNotification fetches the public view of a notification.
func (s *Session) GetNotification(ctx context.Context, id string) (domain.PublicView, error) {
	res, err := s.do(ctx, call{
		endpoint:   EndpointGet,
		method:     http.MethodGet,
		path:       "notification/" + url.PathEscape(id),
		want:       http.StatusOK,
		timeout:    s.c.cfg.PollRequestTimeout,
		idempotent: true,
	})
	if err != nil {
		return domain.PublicView{}, err
	}
	obj, err := decodeObject(res.body, EndpointGet)
	if err != nil {
		return domain.PublicView{}, err
	}
	return parsePublic(obj, EndpointGet+" response")
}

// User fetches the session account's overview.
func (s *Session) User(ctx context.Context) (domain.UserInfo, error) {
	res, err := s.do(ctx, call{
		endpoint:   EndpointUser,
		method:     http.MethodGet,
		path:       "user",
		want:       http.StatusOK,
		timeout:    s.c.cfg.RequestTimeout,
		idempotent: true,
	})
	if err != nil {
		return domain.UserInfo{}, err
	}
	obj, err := decodeObject(res.body, EndpointUser)
	if err != nil {
		return domain.UserInfo{}, err
	}
	return parseUser(obj, EndpointUser+" response")
}

func (s *Session) do(ctx context.Context, c call) (*result, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	attempts := 1
	if c.idempotent {
		attempts += s.c.cfg.MaxRetries
	}

	var (
		res     *result
		lastErr error
		tries   int
	)
	for tries < attempts {
		tries++
		if lastErr = s.c.limiter.Wait(reqCtx); lastErr != nil {
			break
		}
		res, lastErr = s.roundTrip(reqCtx, c)
		if lastErr == nil {
			break
		}
		// Only connection failures inside the request's own budget are retried.
		if reqCtx.Err() != nil || !isConnectionError(lastErr) {
			break
		}
	}

	var err error
	if lastErr != nil {
		err = s.classifyTransport(ctx, c, lastErr)
	} else {
		err = checkStatus(c, res)
	}

	event := CallEvent{
		Endpoint:  c.endpoint,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempts:  tries,
		Success:   err == nil,
		ErrorCode: errorCode(err),
	}
	if res != nil {
		event.StatusCode = res.status
	}
	s.c.observer.OnCallComplete(event)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Session) roundTrip(ctx context.Context, c call) (*result, error) {
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, s.c.cfg.Endpoint(c.path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &result{status: resp.StatusCode, body: data, cookies: resp.Cookies()}, nil
}

// classifyTransport maps a failed round trip to a verdict. Expiry of the
// caller's context is the run deadline; expiry of the per-request timeout is
// the service being too slow.
func (s *Session) classifyTransport(ctx context.Context, c call, err error) error {
	endpoint := s.c.cfg.Endpoint(c.path)
	switch {
	case ctx.Err() != nil:
		return verdict.Deadline(fmt.Sprintf("interrupted on %s %s: %v", c.method, endpoint, err))
	case isTimeout(err):
		return verdict.Outage("API request timeout", fmt.Sprintf("Got API timeout error on %s %s", c.method, endpoint))
	case isConnectionError(err):
		return verdict.Outage("API connection error", fmt.Sprintf("Got API connection error on %s %s: %v", c.method, endpoint, err))
	default:
		return verdict.Outage("API request failed", fmt.Sprintf("%s %s: %v", c.method, endpoint, err))
	}
}

func checkStatus(c call, res *result) error {
	if res.status >= 500 {
		return verdict.Wrap(verdict.KindOutage, c.endpoint,
			fmt.Errorf("%w: code %d: %s", ErrServer, res.status, truncate(res.body)))
	}
	if res.status != c.want {
		return verdict.Wrap(verdict.KindRejected,
			fmt.Sprintf("%s returned bad status code %d", c.endpoint, res.status),
			fmt.Errorf("%w: want %d: %s", ErrBadStatus, c.want, truncate(res.body)))
	}
	return nil
}
