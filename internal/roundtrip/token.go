// Package roundtrip plants notifications in one invocation and verifies them
// in a later one. Everything the second invocation needs travels in a token
// pair; no state is kept between the two.
package roundtrip

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Planted is one notification created during Plant.
type Planted struct {
	ID     string
	Params domain.CreationParams
}

// Record is everything Verify needs to rebuild its expectations.
type Record struct {
	Account       domain.Account
	Notifications []Planted
}

// Newest returns the latest NotifyAt among the planted notifications.
func (r Record) Newest() time.Time {
	var newest time.Time
	for _, n := range r.Notifications {
		if n.Params.NotifyAt.After(newest) {
			newest = n.Params.NotifyAt
		}
	}
	return newest
}

// Token is the pair handed back to the orchestrator. Public lists the IDs of
// secret-bearing notifications; Private is opaque.
type Token struct {
	Public  string
	Private string
}

type wireRepeat struct {
	Count    int   `json:"c"`
	Interval int64 `json:"i"`
}

type wireParams struct {
	Title    string      `json:"t"`
	Content  string      `json:"c"`
	NotifyAt int64       `json:"n"`
	Repeat   *wireRepeat `json:"r"`
}

// wireEntry is encoded as a two element array: [id, params].
type wireEntry struct {
	ID     string
	Params wireParams
}

func (e wireEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ID, e.Params})
}

func (e *wireEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("entry has %d elements, want 2", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.ID); err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &e.Params); err != nil {
		return fmt.Errorf("entry params: %w", err)
	}
	return nil
}

type wireRecord struct {
	Username      string      `json:"u"`
	Password      string      `json:"p"`
	Notifications []wireEntry `json:"n"`
}

func toWire(r Record) wireRecord {
	w := wireRecord{Username: r.Account.Username, Password: r.Account.Password}
	for _, n := range r.Notifications {
		p := wireParams{
			Title:    n.Params.Title,
			Content:  n.Params.Content,
			NotifyAt: n.Params.NotifyAt.UnixMicro(),
		}
		if n.Params.Repeat != nil {
			p.Repeat = &wireRepeat{
				Count:    n.Params.Repeat.Count,
				Interval: int64(n.Params.Repeat.Interval / time.Second),
			}
		}
		w.Notifications = append(w.Notifications, wireEntry{ID: n.ID, Params: p})
	}
	return w
}

// Repetition bounds the service enforces on creation. Anything outside them
// cannot have come from Plant, and larger intervals overflow time.Duration.
const (
	maxRepeatCount    = 10
	maxRepeatInterval = 3600 // seconds
)

func fromWire(w wireRecord) (Record, error) {
	if w.Username == "" || w.Password == "" {
		return Record{}, errors.New("missing credentials")
	}
	if len(w.Notifications) == 0 {
		return Record{}, errors.New("no notifications")
	}
	r := Record{Account: domain.Account{Username: w.Username, Password: w.Password}}
	for i, e := range w.Notifications {
		if e.ID == "" {
			return Record{}, fmt.Errorf("notification %d: missing id", i)
		}
		if _, err := uuid.Parse(e.ID); err != nil {
			return Record{}, fmt.Errorf("notification %d: id %q: %w", i, e.ID, err)
		}
		if e.Params.Title == "" || e.Params.Content == "" {
			return Record{}, fmt.Errorf("notification %s: missing title or content", e.ID)
		}
		if e.Params.NotifyAt <= 0 {
			return Record{}, fmt.Errorf("notification %s: invalid notify time %d", e.ID, e.Params.NotifyAt)
		}
		var repeat *domain.RepeatSpec
		if e.Params.Repeat != nil {
			rep := *e.Params.Repeat
			if rep.Count < 0 || rep.Count > maxRepeatCount ||
				rep.Interval < 1 || rep.Interval > maxRepeatInterval {
				return Record{}, fmt.Errorf("notification %s: invalid repetitions %+v", e.ID, rep)
			}
			repeat = &domain.RepeatSpec{
				Count:    rep.Count,
				Interval: time.Duration(rep.Interval) * time.Second,
			}
		}
		r.Notifications = append(r.Notifications, Planted{
			ID: e.ID,
			Params: domain.NewCreationParams(e.Params.Title, e.Params.Content,
				time.UnixMicro(e.Params.NotifyAt), repeat),
		})
	}
	return r, nil
}

func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodePrivate serializes r as compact JSON, compresses it with zlib and
// renders it as ASCII85 text.
func EncodePrivate(r Record) (string, error) {
	return encodeWire(toWire(r))
}

func encodeWire(w wireRecord) (string, error) {
	raw, err := compactJSON(w)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress record: %w", err)
	}

	out := make([]byte, ascii85.MaxEncodedLen(zbuf.Len()))
	n := ascii85.Encode(out, zbuf.Bytes())
	return string(out[:n]), nil
}

// DecodePrivate reverses EncodePrivate. Any malformed or incomplete token is
// a Protocol verdict.
func DecodePrivate(s string) (Record, error) {
	r, err := decodePrivate(s)
	if err != nil {
		return Record{}, verdict.Wrap(verdict.KindProtocol, "invalid private token", err)
	}
	return r, nil
}

func decodePrivate(s string) (Record, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Record{}, errors.New("empty token")
	}

	zdata, err := io.ReadAll(ascii85.NewDecoder(strings.NewReader(s)))
	if err != nil {
		return Record{}, fmt.Errorf("ascii85: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(zdata))
	if err != nil {
		return Record{}, fmt.Errorf("zlib: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return Record{}, fmt.Errorf("zlib: %w", err)
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, fmt.Errorf("json: %w", err)
	}
	return fromWire(w)
}

// EncodePublic renders the secret-bearing notification IDs as a compact JSON
// list.
func EncodePublic(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := compactJSON(ids)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodePublic parses the public half.
func DecodePublic(s string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, verdict.Wrap(verdict.KindProtocol, "invalid public token", err)
	}
	if ids == nil {
		return nil, verdict.Protocol("invalid public token", "public token is not a list")
	}
	for i, id := range ids {
		if id == "" {
			return nil, verdict.Protocol("invalid public token", fmt.Sprintf("entry %d is empty", i))
		}
	}
	return ids, nil
}
