package remote

import (
	"time"

	"github.com/campussublets/subletd/internal/store"
)

// messageRecord is the wire shape of a message row. Nullable columns are
// pointers here and nowhere else: normalization happens at this boundary.
type messageRecord struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Body       *string   `json:"body"`
	IsRead     *bool     `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *messageRecord) toMessage() store.Message {
	m := store.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Timestamp:  r.CreatedAt.UnixMilli(),
	}
	if r.Body != nil {
		m.Body = *r.Body
	}
	if r.IsRead != nil {
		m.IsRead = *r.IsRead
	}
	return m
}

// SavedRecord is a persisted saved-listing row.
type SavedRecord struct {
	UserID    string    `json:"user_id"`
	ListingID string    `json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Sublet is a listing record with nullable columns normalized away.
type Sublet struct {
	ID         string
	PosterID   string
	Title      string
	PriceCents int64
	Address    string
	PhotoURL   string
}

type subletRecord struct {
	ID         string  `json:"id"`
	PosterID   string  `json:"poster_id"`
	Title      *string `json:"title"`
	PriceCents *int64  `json:"price_cents"`
	Address    *string `json:"address"`
	PhotoURL   *string `json:"photo_url"`
}

func (r *subletRecord) toSublet() *Sublet {
	s := &Sublet{ID: r.ID, PosterID: r.PosterID}
	if r.Title != nil {
		s.Title = *r.Title
	}
	if r.PriceCents != nil {
		s.PriceCents = *r.PriceCents
	}
	if r.Address != nil {
		s.Address = *r.Address
	}
	if r.PhotoURL != nil {
		s.PhotoURL = *r.PhotoURL
	}
	return s
}

// Profile is a user profile record with nullable columns normalized away.
type Profile struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

type profileRecord struct {
	ID        string  `json:"id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
}

func (r *profileRecord) toProfile() *Profile {
	p := &Profile{ID: r.ID}
	if r.FirstName != nil {
		p.FirstName = *r.FirstName
	}
	if r.LastName != nil {
		p.LastName = *r.LastName
	}
	if r.Email != nil {
		p.Email = *r.Email
	}
	return p
}

// Change is one row-level event from the realtime feed.
type Change struct {
	Event   string // "INSERT" or "UPDATE"
	Table   string
	Message store.Message
}

// Feed event names.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
)
