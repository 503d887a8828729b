// Gmail REST implementation of the Source and Sender interfaces.
//
// Only the handful of endpoints the assistant needs are wired: list unread,
// fetch full message, send raw RFC 2822, and remove the UNREAD label. Auth is
// delegated to an oauth2.TokenSource (refresh handling included), matching
// how the Gmail API expects installed-app credentials to be used.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com"

// GmailClient talks to the Gmail REST API on behalf of the assistant account.
type GmailClient struct {
	http    *http.Client
	baseURL string

	// AssistantAddress scopes the unread query (is:unread to:<address>).
	AssistantAddress string
	// MaxResults caps one Unread listing; Gmail defaults to 100.
	MaxResults int
}

// NewGmailClient builds a client authenticated by the given token source.
func NewGmailClient(ctx context.Context, ts oauth2.TokenSource, assistantAddress string) *GmailClient {
	return &GmailClient{
		http:             oauth2.NewClient(ctx, ts),
		baseURL:          defaultGmailBaseURL,
		AssistantAddress: assistantAddress,
		MaxResults:       50,
	}
}

// NewGmailClientWithHTTP builds a client over a caller-supplied HTTP client
// and base URL. Used by tests.
func NewGmailClientWithHTTP(hc *http.Client, baseURL, assistantAddress string) *GmailClient {
	return &GmailClient{http: hc, baseURL: strings.TrimRight(baseURL, "/"), AssistantAddress: assistantAddress, MaxResults: 50}
}

// Unread lists unread messages addressed to the assistant, fully fetched and
// parsed. Messages without an extractable text body are returned with an empty
// Body so the caller can still consume and acknowledge them.
func (g *GmailClient) Unread(ctx context.Context) ([]Message, error) {
	q := "is:unread"
	if g.AssistantAddress != "" {
		q += " to:" + g.AssistantAddress
	}
	u := fmt.Sprintf("%s/gmail/v1/users/me/messages?q=%s&maxResults=%d",
		g.baseURL, url.QueryEscape(q), g.MaxResults)

	var listing struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.getJSON(ctx, u, &listing); err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}

	out := make([]Message, 0, len(listing.Messages))
	for _, m := range listing.Messages {
		msg, err := g.fetch(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", m.ID, err)
		}
		out = append(out, *msg)
	}
	return out, nil
}

// MarkRead removes the UNREAD label from a message.
func (g *GmailClient) MarkRead(ctx context.Context, messageID string) error {
	u := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s/modify", g.baseURL, url.PathEscape(messageID))
	body := map[string]any{"removeLabelIds": []string{"UNREAD"}}
	return g.postJSON(ctx, u, body, nil)
}

// Send delivers a reply as a raw RFC 2822 message.
func (g *GmailClient) Send(ctx context.Context, r Reply) error {
	raw := buildRFC2822(g.AssistantAddress, r)
	payload := map[string]any{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	}
	if r.ThreadID != "" {
		payload["threadId"] = r.ThreadID
	}
	u := g.baseURL + "/gmail/v1/users/me/messages/send"
	return g.postJSON(ctx, u, payload, nil)
}

// gmailMessage mirrors the subset of the Gmail message resource we read.
type gmailMessage struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"threadId"`
	InternalDate string       `json:"internalDate"` // epoch millis as string
	Payload      gmailPayload `json:"payload"`
}

type gmailPayload struct {
	MimeType string         `json:"mimeType"`
	Headers  []gmailHeader  `json:"headers"`
	Body     gmailBody      `json:"body"`
	Parts    []gmailPayload `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"`
}

func (g *GmailClient) fetch(ctx context.Context, id string) (*Message, error) {
	u := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=full", g.baseURL, url.PathEscape(id))
	var gm gmailMessage
	if err := g.getJSON(ctx, u, &gm); err != nil {
		return nil, err
	}
	return parseGmailMessage(&gm), nil
}

// parseGmailMessage converts a Gmail message resource into a Message.
func parseGmailMessage(gm *gmailMessage) *Message {
	msg := &Message{ID: gm.ID, ThreadID: gm.ThreadID}

	for _, h := range gm.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.FromName, msg.From = splitFromHeader(h.Value)
		}
	}
	if ms, err := strconv.ParseInt(gm.InternalDate, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	msg.Body = extractTextBody(&gm.Payload)
	return msg
}

// fromHeaderRE matches `"Display Name" <addr>` with optional quotes.
var fromHeaderRE = regexp.MustCompile(`^"?([^"<]*)"?\s*<([^>]+)>$`)

// splitFromHeader separates a From header into display name and address.
func splitFromHeader(v string) (name, addr string) {
	v = strings.TrimSpace(v)
	if m := fromHeaderRE.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return "", v
}

// extractTextBody walks the MIME tree depth-first and returns the first
// text/plain part, decoded from base64url.
func extractTextBody(p *gmailPayload) string {
	mt, _, err := mime.ParseMediaType(p.MimeType)
	if err != nil {
		mt = p.MimeType
	}
	if mt == "text/plain" && p.Body.Data != "" {
		if b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(p.Body.Data, "=")); err == nil {
			return string(b)
		}
	}
	for i := range p.Parts {
		if body := extractTextBody(&p.Parts[i]); body != "" {
			return body
		}
	}
	return ""
}

// buildRFC2822 renders a minimal plain-text email.
func buildRFC2822(from string, r Reply) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", r.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", r.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.String()
}

func (g *GmailClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *GmailClient) postJSON(ctx context.Context, url string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *GmailClient) do(req *http.Request, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail api: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
