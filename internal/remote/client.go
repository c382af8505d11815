package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/campussublets/subletd/internal/store"
)

const restPrefix = "/rest/v1"

// Client is a typed REST client for the marketplace backend. It is the only
// component that speaks the backend's wire format; everything above it works
// with normalized store types.
type Client struct {
	baseURL string
	apiKey  string
	session Session
	http    *http.Client
}

// NewClient creates a backend client. baseURL is the backend origin, e.g.
// "https://api.campussublets.example".
func NewClient(baseURL, apiKey string, session Session) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		session: session,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CountMessages returns the total number of messages where userID is sender
// or receiver.
func (c *Client) CountMessages(ctx context.Context, userID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	q := url.Values{"user": {userID}}
	if err := c.do(ctx, http.MethodGet, "/messages/count", q, nil, &out); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return out.Count, nil
}

// ListMessagesPage returns one page of the user's messages, ascending by
// creation time. offset/limit select the page.
func (c *Client) ListMessagesPage(ctx context.Context, userID string, offset, limit int) ([]store.Message, error) {
	var records []messageRecord
	q := url.Values{
		"user":   {userID},
		"offset": {fmt.Sprint(offset)},
		"limit":  {fmt.Sprint(limit)},
		"order":  {"created_at.asc"},
	}
	if err := c.do(ctx, http.MethodGet, "/messages", q, nil, &records); err != nil {
		return nil, fmt.Errorf("list messages page: %w", err)
	}
	msgs := make([]store.Message, 0, len(records))
	for i := range records {
		msgs = append(msgs, records[i].toMessage())
	}
	return msgs, nil
}

// InsertMessage creates a new message row. The id is client-generated.
func (c *Client) InsertMessage(ctx context.Context, m *store.Message) error {
	body := map[string]string{
		"id":          m.ID,
		"sender_id":   m.SenderID,
		"receiver_id": m.ReceiverID,
		"body":        m.Body,
	}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, body, nil); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkMessagesRead sets is_read=true on every unread message from senderID
// to receiverID.
func (c *Client) MarkMessagesRead(ctx context.Context, senderID, receiverID string) error {
	body := map[string]string{
		"sender_id":   senderID,
		"receiver_id": receiverID,
	}
	if err := c.do(ctx, http.MethodPost, "/messages/read", nil, body, nil); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// InsertSaved creates a saved-listing row. Returns ErrDuplicate when the
// (user, listing) pair already exists.
func (c *Client) InsertSaved(ctx context.Context, userID, listingID string) error {
	body := map[string]string{
		"user_id":    userID,
		"listing_id": listingID,
	}
	if err := c.do(ctx, http.MethodPost, "/saved_listings", nil, body, nil); err != nil {
		return fmt.Errorf("insert saved listing: %w", err)
	}
	return nil
}

// DeleteSaved removes a saved-listing row. Deleting a non-existent row is
// not an error.
func (c *Client) DeleteSaved(ctx context.Context, userID, listingID string) error {
	q := url.Values{"user": {userID}}
	if err := c.do(ctx, http.MethodDelete, "/saved_listings/"+url.PathEscape(listingID), q, nil, nil); err != nil {
		return fmt.Errorf("delete saved listing: %w", err)
	}
	return nil
}

// ListSaved returns all saved-listing rows for the user.
func (c *Client) ListSaved(ctx context.Context, userID string) ([]SavedRecord, error) {
	var records []SavedRecord
	q := url.Values{"user": {userID}}
	if err := c.do(ctx, http.MethodGet, "/saved_listings", q, nil, &records); err != nil {
		return nil, fmt.Errorf("list saved listings: %w", err)
	}
	return records, nil
}

// GetSublet fetches one listing by id. Returns ErrNotFound when missing.
func (c *Client) GetSublet(ctx context.Context, id string) (*Sublet, error) {
	var record subletRecord
	if err := c.do(ctx, http.MethodGet, "/sublets/"+url.PathEscape(id), nil, nil, &record); err != nil {
		return nil, fmt.Errorf("get sublet: %w", err)
	}
	return record.toSublet(), nil
}

// GetProfile fetches one user profile by id. Returns ErrNotFound when missing.
func (c *Client) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var record profileRecord
	if err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), nil, nil, &record); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return record.toProfile(), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + restPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	if tok := c.session.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrDuplicate
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("backend %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
