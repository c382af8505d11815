package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInsertMessageIfAbsent(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Body: "hi", Timestamp: 1000}
	inserted, err := db.InsertMessageIfAbsent(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first insert reported not inserted")
	}

	// Same id again, different body: first write wins.
	dup := &Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Body: "changed", Timestamp: 1000}
	inserted, err = db.InsertMessageIfAbsent(dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate insert reported inserted")
	}

	msgs, err := db.MessagesWith("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body != "hi" {
		t.Errorf("body = %q, want hi (first write wins)", msgs[0].Body)
	}
}

func TestReplaceAllMessages(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertMessageIfAbsent(&Message{ID: "old", SenderID: "a", ReceiverID: "b", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	fresh := []Message{
		{ID: "m1", SenderID: "a", ReceiverID: "b", Body: "one", Timestamp: 100},
		{ID: "m2", SenderID: "b", ReceiverID: "a", Body: "two", Timestamp: 200},
	}
	if err := db.ReplaceAllMessages(fresh); err != nil {
		t.Fatal(err)
	}

	n, err := db.CountMessages()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (old row replaced)", n)
	}
}

func TestReplaceAllMessagesEmpty(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertMessageIfAbsent(&Message{ID: "m", SenderID: "a", ReceiverID: "b", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceAllMessages(nil); err != nil {
		t.Fatal(err)
	}
	n, _ := db.CountMessages()
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestMessagesWithOrdering(t *testing.T) {
	db := testDB(t)

	seed := []Message{
		{ID: "m3", SenderID: "bob", ReceiverID: "alice", Body: "three", Timestamp: 300},
		{ID: "m1", SenderID: "alice", ReceiverID: "bob", Body: "one", Timestamp: 100},
		{ID: "m2", SenderID: "bob", ReceiverID: "alice", Body: "two", Timestamp: 200},
		// Other conversations must not leak in.
		{ID: "x1", SenderID: "alice", ReceiverID: "carol", Body: "other", Timestamp: 150},
	}
	for i := range seed {
		if _, err := db.InsertMessageIfAbsent(&seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.MessagesWith("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %s, want %s", i, msgs[i].ID, want)
		}
	}
}

func TestUnreadCounts(t *testing.T) {
	db := testDB(t)

	seed := []Message{
		{ID: "m1", SenderID: "bob", ReceiverID: "alice", Timestamp: 100},
		{ID: "m2", SenderID: "bob", ReceiverID: "alice", Timestamp: 200},
		{ID: "m3", SenderID: "carol", ReceiverID: "alice", Timestamp: 300},
		{ID: "m4", SenderID: "alice", ReceiverID: "bob", Timestamp: 400},
		{ID: "m5", SenderID: "bob", ReceiverID: "alice", IsRead: true, Timestamp: 500},
	}
	for i := range seed {
		if _, err := db.InsertMessageIfAbsent(&seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.UnreadFrom("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("UnreadFrom(alice, bob) = %d, want 2", got)
	}

	total, err := db.TotalUnread("alice")
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("TotalUnread(alice) = %d, want 3", total)
	}

	if err := db.MarkConversationRead("bob", "alice"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.UnreadFrom("alice", "bob")
	if got != 0 {
		t.Errorf("UnreadFrom after MarkConversationRead = %d, want 0", got)
	}
	total, _ = db.TotalUnread("alice")
	if total != 1 {
		t.Errorf("TotalUnread after MarkConversationRead = %d, want 1 (carol)", total)
	}
}

func TestSetMessageRead(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertMessageIfAbsent(&Message{ID: "m1", SenderID: "b", ReceiverID: "a", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	found, err := db.SetMessageRead("m1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("SetMessageRead(m1) found = false, want true")
	}

	// Unknown id is a no-op, not an error.
	found, err = db.SetMessageRead("ghost", true)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("SetMessageRead(ghost) found = true, want false")
	}
}

func TestContactsDerivation(t *testing.T) {
	db := testDB(t)

	seed := []Message{
		{ID: "m1", SenderID: "bob", ReceiverID: "alice", Body: "old", Timestamp: 100},
		{ID: "m2", SenderID: "alice", ReceiverID: "bob", Body: "latest-bob", Timestamp: 400},
		{ID: "m3", SenderID: "carol", ReceiverID: "alice", Body: "latest-carol", Timestamp: 200},
		// Self-message: must not produce a contact.
		{ID: "m4", SenderID: "alice", ReceiverID: "alice", Body: "note", Timestamp: 900},
	}
	for i := range seed {
		if _, err := db.InsertMessageIfAbsent(&seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	contacts, err := db.Contacts("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2 (self excluded)", len(contacts))
	}
	// Sorted by last message timestamp descending: bob (400) then carol (200).
	if contacts[0].UserID != "bob" || contacts[1].UserID != "carol" {
		t.Errorf("contact order = [%s %s], want [bob carol]", contacts[0].UserID, contacts[1].UserID)
	}
	if contacts[0].LastMessage.Body != "latest-bob" {
		t.Errorf("bob last message = %q, want latest-bob", contacts[0].LastMessage.Body)
	}
	if contacts[0].UnreadCount != 1 {
		t.Errorf("bob unread = %d, want 1", contacts[0].UnreadCount)
	}
	if contacts[1].UnreadCount != 1 {
		t.Errorf("carol unread = %d, want 1", contacts[1].UnreadCount)
	}
}

func TestSavedPlaceholderLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPlaceholder("l1", "alice", 1000); err != nil {
		t.Fatal(err)
	}

	saved, err := db.HasSaved("l1")
	if err != nil {
		t.Fatal(err)
	}
	if !saved {
		t.Error("HasSaved(l1) = false after placeholder insert")
	}

	entries, err := db.ListSaved()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Placeholder {
		t.Fatalf("entries = %+v, want one placeholder", entries)
	}

	full := &SavedListing{
		ListingID: "l1", UserID: "alice", Title: "Cozy studio near campus",
		PriceCents: 95000, Address: "12 College Ave", PosterEmail: "poster@uni.edu",
		SavedAt: 1000,
	}
	if err := db.UpsertSaved(full); err != nil {
		t.Fatal(err)
	}

	entries, _ = db.ListSaved()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Placeholder {
		t.Error("placeholder flag still set after UpsertSaved")
	}
	if entries[0].Title != full.Title || entries[0].PosterEmail != full.PosterEmail {
		t.Errorf("entry = %+v, want full record", entries[0])
	}

	if err := db.RemoveSaved("l1"); err != nil {
		t.Fatal(err)
	}
	saved, _ = db.HasSaved("l1")
	if saved {
		t.Error("HasSaved(l1) = true after remove")
	}
}

func TestListSavedOrder(t *testing.T) {
	db := testDB(t)

	for _, e := range []SavedListing{
		{ListingID: "l1", UserID: "u", SavedAt: 100},
		{ListingID: "l2", UserID: "u", SavedAt: 300},
		{ListingID: "l3", UserID: "u", SavedAt: 200},
	} {
		e := e
		if err := db.UpsertSaved(&e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := db.ListSaved()
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"l2", "l3", "l1"} {
		if entries[i].ListingID != want {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].ListingID, want)
		}
	}
}

func TestReplaceAllSaved(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPlaceholder("stale", "u", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceAllSaved([]SavedListing{
		{ListingID: "l1", UserID: "u", Title: "Room A", SavedAt: 100},
	}); err != nil {
		t.Fatal(err)
	}

	entries, _ := db.ListSaved()
	if len(entries) != 1 || entries[0].ListingID != "l1" {
		t.Fatalf("entries = %+v, want only l1", entries)
	}
}

func TestProfileCache(t *testing.T) {
	db := testDB(t)

	p, err := db.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("GetProfile(unknown) = %+v, want nil", p)
	}

	if err := db.UpsertProfile(&Profile{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@uni.edu"}); err != nil {
		t.Fatal(err)
	}
	p, err = db.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.FirstName != "Ada" {
		t.Errorf("profile = %+v, want Ada", p)
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	v, err := db.GetSyncState("last_fetch")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("unset sync state = %q, want empty", v)
	}

	if err := db.SetSyncState("last_fetch", "1700000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSyncState("last_fetch", "1700000001"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetSyncState("last_fetch")
	if v != "1700000001" {
		t.Errorf("sync state = %q, want 1700000001", v)
	}
}
