package store

// Message is a cached direct message. Immutable once synced except for
// IsRead, which only flips false -> true.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	IsRead     bool   `json:"is_read"`
	Timestamp  int64  `json:"timestamp"` // unix ms
}

// SavedListing is a cached saved-listing entry. Placeholder entries carry
// only the listing id and saved_at until the detail fetch fills them in.
type SavedListing struct {
	ListingID   string `json:"listing_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	PriceCents  int64  `json:"price_cents"`
	Address     string `json:"address"`
	PosterEmail string `json:"poster_email"`
	PhotoURL    string `json:"photo_url"`
	SavedAt     int64  `json:"saved_at"` // unix ms
	Placeholder bool   `json:"placeholder"`
}

// Profile is a cached user profile, used for display names only.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	CachedAt  int64  `json:"cached_at"`
}

// Contact is a derived conversation summary: one row per counterparty with
// the most recent message and the unread count from that counterparty.
type Contact struct {
	UserID      string  `json:"user_id"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}
