package notifyapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/google/uuid"
)

// notifyAtLayout keeps microseconds and an explicit offset, matching what the
// service's ISO 8601 parser round-trips exactly.
const notifyAtLayout = "2006-01-02T15:04:05.000000-07:00"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type repetitions struct {
	Count    int   `json:"count"`
	Interval int64 `json:"interval"`
}

type createRequest struct {
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	NotifyAt    string       `json:"notify_at"`
	Repetitions *repetitions `json:"repetitions,omitempty"`
}

func newCreateRequest(p domain.CreationParams) createRequest {
	req := createRequest{
		Title:    p.Title,
		Content:  p.Content,
		NotifyAt: p.NotifyAt.UTC().Format(notifyAtLayout),
	}
	if p.Repeat != nil {
		req.Repetitions = &repetitions{
			Count:    p.Repeat.Count,
			Interval: int64(p.Repeat.Interval / time.Second),
		}
	}
	return req
}

type object map[string]json.RawMessage

func parseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func decodeObject(body []byte, endpoint string) (object, error) {
	var obj object
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, verdict.Protocol(endpoint+" returned invalid response",
			fmt.Sprintf("response is not a JSON object: %q", truncate(body)))
	}
	return obj, nil
}

// field extracts a required member of obj, failing with a Protocol verdict if
// it is missing or of the wrong type.
func field[T any](obj object, name, location string) (T, error) {
	var v T
	raw, ok := obj[name]
	if !ok {
		return v, verdict.Protocol(fmt.Sprintf("missing %s in %s", name, location),
			fmt.Sprintf("fields present: %v", keys(obj)))
	}
	if err := json.Unmarshal(raw, &v); err != nil || string(raw) == "null" {
		return v, verdict.Protocol(fmt.Sprintf("invalid %s in %s", name, location),
			fmt.Sprintf("%s = %s", name, truncate(raw)))
	}
	return v, nil
}

func parsePublic(obj object, location string) (domain.PublicView, error) {
	title, err := field[string](obj, "title", location)
	if err != nil {
		return domain.PublicView{}, err
	}
	entries, err := field[[]object](obj, "plan", location)
	if err != nil {
		return domain.PublicView{}, err
	}

	view := domain.PublicView{Title: title, Plan: make([]domain.PlanEntry, 0, len(entries))}
	for _, e := range entries {
		planned, err := field[string](e, "planned_at", location)
		if err != nil {
			return domain.PublicView{}, err
		}
		entry := domain.PlanEntry{}
		entry.PlannedAt, err = parseTime(planned)
		if err != nil {
			return domain.PublicView{}, verdict.Protocol("invalid planned_at in "+location,
				fmt.Sprintf("failed to parse %q as ISO 8601: %v", planned, err))
		}

		if raw, ok := e["sent_at"]; ok && string(raw) != "null" {
			var sent string
			if err := json.Unmarshal(raw, &sent); err != nil {
				return domain.PublicView{}, verdict.Protocol("invalid sent_at in "+location,
					fmt.Sprintf("sent_at = %s", truncate(raw)))
			}
			t, err := parseTime(sent)
			if err != nil {
				return domain.PublicView{}, verdict.Protocol("invalid sent_at in "+location,
					fmt.Sprintf("failed to parse %q as ISO 8601: %v", sent, err))
			}
			entry.SentAt = &t
		}
		view.Plan = append(view.Plan, entry)
	}
	return view, nil
}

func parseUser(obj object, location string) (domain.UserInfo, error) {
	username, err := field[string](obj, "username", location)
	if err != nil {
		return domain.UserInfo{}, err
	}
	items, err := field[[]object](obj, "notifications", location)
	if err != nil {
		return domain.UserInfo{}, err
	}

	info := domain.UserInfo{Username: username, Notifications: make([]domain.PrivateView, 0, len(items))}
	itemLocation := "notifications in " + location
	for _, item := range items {
		pub, err := parsePublic(item, location)
		if err != nil {
			return domain.UserInfo{}, err
		}
		id, err := field[string](item, "id", itemLocation)
		if err != nil {
			return domain.UserInfo{}, err
		}
		content, err := field[string](item, "content", itemLocation)
		if err != nil {
			return domain.UserInfo{}, err
		}
		info.Notifications = append(info.Notifications, domain.PrivateView{
			ID: id, Title: pub.Title, Content: content, Plan: pub.Plan,
		})
	}
	return info, nil
}

func parseCreated(obj object, location string) (string, error) {
	id, err := field[string](obj, "notification_id", location)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", verdict.Protocol(EndpointCreate+" returned empty notification_id", "")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", verdict.Protocol("invalid notification_id in "+location,
			fmt.Sprintf("%q is not a UUID: %v", id, err))
	}
	return id, nil
}

func keys(obj object) []string {
	out := make([]string, 0, len(obj))
	for k := range obj {
		out = append(out, k)
	}
	return out
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
