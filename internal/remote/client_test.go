package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testSession() StaticSession {
	return StaticSession{ID: "u-1", Token: "tok-1"}
}

func TestCountMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages/count" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "u-1" {
			t.Errorf("user = %q, want u-1", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"count": 123})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	n, err := c.CountMessages(context.Background(), "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 123 {
		t.Errorf("count = %d, want 123", n)
	}
}

func TestListMessagesPageNormalizesNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("offset") != "50" || q.Get("limit") != "50" {
			t.Errorf("pagination = offset %s limit %s", q.Get("offset"), q.Get("limit"))
		}
		_, _ = w.Write([]byte(`[
			{"id":"m1","sender_id":"a","receiver_id":"u-1","body":"hello","is_read":true,"created_at":"2026-01-02T03:04:05Z"},
			{"id":"m2","sender_id":"a","receiver_id":"u-1","body":null,"is_read":null,"created_at":"2026-01-02T03:04:06Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	msgs, err := c.ListMessagesPage(context.Background(), "u-1", 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !msgs[0].IsRead || msgs[0].Body != "hello" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	// Null columns normalize to zero values, not three-state optionals.
	if msgs[1].Body != "" || msgs[1].IsRead {
		t.Errorf("msgs[1] = %+v, want empty body and unread", msgs[1])
	}
	if msgs[0].Timestamp >= msgs[1].Timestamp {
		t.Errorf("timestamps not ascending: %d >= %d", msgs[0].Timestamp, msgs[1].Timestamp)
	}
}

func TestInsertSavedDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	err := c.InsertSaved(context.Background(), "u-1", "l-1")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestGetSubletNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	_, err := c.GetSublet(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetProfileNormalizesNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p1","first_name":"Ada","last_name":null,"email":"ada@uni.edu"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	p, err := c.GetProfile(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.FirstName != "Ada" || p.LastName != "" || p.Email != "ada@uni.edu" {
		t.Errorf("profile = %+v", p)
	}
}

func TestServerErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", testSession())
	_, err := c.CountMessages(context.Background(), "u-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound) {
		t.Errorf("5xx mapped to sentinel: %v", err)
	}
}

func TestNotifierPostsPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "anon")
	if err := n.NotifyNewMessage(context.Background(), "a", "b", "hi there"); err != nil {
		t.Fatal(err)
	}
	if got["sender_id"] != "a" || got["receiver_id"] != "b" || got["preview"] != "hi there" {
		t.Errorf("payload = %v", got)
	}
}

func TestNotifierDisabledWhenNoEndpoint(t *testing.T) {
	n := NewNotifier("", "anon")
	if err := n.NotifyNewMessage(context.Background(), "a", "b", "x"); err != nil {
		t.Errorf("disabled notifier error = %v", err)
	}
}

func TestNotifierReturnsErrorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "anon")
	if err := n.NotifyNewMessage(context.Background(), "a", "b", "x"); err == nil {
		t.Error("expected error for 502")
	}
}
