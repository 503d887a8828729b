// Cal.com implementation of the Booker and AvailabilityLister interfaces.
//
// Two API generations are involved, mirroring what Cal.com actually offers:
// v2 for event-type lookup and booking creation, v1 for availability slots.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultCalV1BaseURL = "https://api.cal.com/v1"
	defaultCalV2BaseURL = "https://api.cal.com/v2"

	// calAPIVersion pins the v2 bookings contract.
	calAPIVersion = "2024-08-13"
)

// CalClient books meetings through Cal.com.
type CalClient struct {
	http   *http.Client
	v1Base string
	v2Base string

	apiKey        string
	username      string
	eventTypeSlug string

	// DaysToCheck bounds the availability window starting tomorrow.
	DaysToCheck int
	// Timezone is the IANA zone availability is requested in.
	Timezone string

	mu          sync.Mutex
	eventTypeID int // cached after first lookup
}

// NewCalClient builds a Cal.com client for one username/event-type pair.
func NewCalClient(apiKey, username, eventTypeSlug string) *CalClient {
	return &CalClient{
		http:          &http.Client{Timeout: 30 * time.Second},
		v1Base:        defaultCalV1BaseURL,
		v2Base:        defaultCalV2BaseURL,
		apiKey:        apiKey,
		username:      username,
		eventTypeSlug: eventTypeSlug,
		DaysToCheck:   14,
		Timezone:      "Europe/Helsinki",
	}
}

// NewCalClientWithHTTP builds a client over caller-supplied HTTP transport
// and base URLs. Used by tests.
func NewCalClientWithHTTP(hc *http.Client, v1Base, v2Base, apiKey, username, eventTypeSlug string) *CalClient {
	c := NewCalClient(apiKey, username, eventTypeSlug)
	c.http = hc
	c.v1Base = strings.TrimRight(v1Base, "/")
	c.v2Base = strings.TrimRight(v2Base, "/")
	return c
}

// BookingURL is the public scheduling page for the configured event type.
func (c *CalClient) BookingURL() string {
	return fmt.Sprintf("https://cal.com/%s/%s", c.username, c.eventTypeSlug)
}

// EventTypeID resolves the configured slug to its numeric id, cached after
// the first successful lookup.
func (c *CalClient) EventTypeID(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventTypeID != 0 {
		return c.eventTypeID, nil
	}

	var out struct {
		Data struct {
			EventTypeGroups []struct {
				EventTypes []struct {
					ID   int    `json:"id"`
					Slug string `json:"slug"`
				} `json:"eventTypes"`
			} `json:"eventTypeGroups"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.v2Base+"/event-types", nil, &out); err != nil {
		return 0, err
	}
	for _, g := range out.Data.EventTypeGroups {
		for _, et := range g.EventTypes {
			if et.Slug == c.eventTypeSlug {
				c.eventTypeID = et.ID
				return et.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: event type %q not found", ErrTerminal, c.eventTypeSlug)
}

// Availability lists free slots from tomorrow over the configured window,
// sorted ascending.
func (c *CalClient) Availability(ctx context.Context) ([]time.Time, error) {
	id, err := c.EventTypeID(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	end := start.AddDate(0, 0, c.DaysToCheck)
	params := url.Values{
		"apiKey":      {c.apiKey},
		"eventTypeId": {fmt.Sprint(id)},
		"startTime":   {start.Format(time.RFC3339)},
		"endTime":     {end.Format(time.RFC3339)},
		"timeZone":    {c.Timezone},
	}

	var out struct {
		Slots map[string][]struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	if err := c.getJSON(ctx, c.v1Base+"/slots?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}

	var slots []time.Time
	for _, day := range out.Slots {
		for _, s := range day {
			if t, err := time.Parse(time.RFC3339, s.Time); err == nil {
				slots = append(slots, t)
			}
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

// Book creates a booking for the requested start. The idempotency key is
// forwarded so a retried call after an ambiguous failure cannot double-book.
func (c *CalClient) Book(ctx context.Context, req Request) (*Confirmation, error) {
	id, err := c.EventTypeID(ctx)
	if err != nil {
		return nil, err
	}

	name := req.AttendeeName
	if name == "" {
		name = req.AttendeeEmail
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	payload := map[string]any{
		"start": req.Start.UTC().Format(time.RFC3339),
		"attendee": map[string]any{
			"name":     name,
			"email":    req.AttendeeEmail,
			"timeZone": c.Timezone,
			"language": lang,
		},
		"eventTypeId":   id,
		"eventTypeSlug": c.eventTypeSlug,
		"username":      c.username,
	}
	if req.Notes != "" {
		payload["notes"] = req.Notes
	}

	var out struct {
		Data struct {
			UID   string `json:"uid"`
			Title string `json:"title"`
			Start string `json:"start"`
		} `json:"data"`
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	if err := c.postJSON(ctx, c.v2Base+"/bookings", headers, payload, &out); err != nil {
		return nil, err
	}

	conf := &Confirmation{Reference: out.Data.UID, Title: out.Data.Title, Start: req.Start.UTC()}
	if t, err := time.Parse(time.RFC3339, out.Data.Start); err == nil {
		conf.Start = t.UTC()
	}
	return conf, nil
}

func (c *CalClient) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminal, err)
	}
	return c.do(req, headers, out)
}

func (c *CalClient) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers, out)
}

func (c *CalClient) do(req *http.Request, headers map[string]string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("cal-api-version", calAPIVersion)
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network-level failures are worth retrying later.
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: cal.com %s: %s", classifyStatus(resp.StatusCode), resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRetryable, err)
	}
	return nil
}

// classifyStatus maps an HTTP status onto the failure taxonomy: rate limits
// and server errors are transient, everything else is definitive.
func classifyStatus(status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return ErrRetryable
	}
	return ErrTerminal
}
