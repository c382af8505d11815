package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertPlaceholder puts a minimally-populated saved-listing entry in the
// cache so the list can render immediately while the detail fetch runs.
func (db *DB) InsertPlaceholder(listingID, userID string, savedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO saved_listings (listing_id, user_id, saved_at, placeholder)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(listing_id) DO UPDATE SET
			saved_at = excluded.saved_at,
			placeholder = 1`,
		listingID, userID, savedAt)
	return err
}

// UpsertSaved writes a fully-populated saved-listing entry, replacing any
// placeholder for the same listing.
func (db *DB) UpsertSaved(e *SavedListing) error {
	_, err := db.Exec(`
		INSERT INTO saved_listings
			(listing_id, user_id, title, price_cents, address, poster_email, photo_url, saved_at, placeholder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(listing_id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			price_cents = excluded.price_cents,
			address = excluded.address,
			poster_email = excluded.poster_email,
			photo_url = excluded.photo_url,
			saved_at = excluded.saved_at,
			placeholder = 0`,
		e.ListingID, e.UserID, e.Title, e.PriceCents, e.Address, e.PosterEmail, e.PhotoURL, e.SavedAt)
	return err
}

// RemoveSaved deletes a saved-listing entry from the cache.
func (db *DB) RemoveSaved(listingID string) error {
	_, err := db.Exec(`DELETE FROM saved_listings WHERE listing_id = ?`, listingID)
	return err
}

// HasSaved reports whether the listing is present in the cache, placeholder
// entries included.
func (db *DB) HasSaved(listingID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM saved_listings WHERE listing_id = ?`, listingID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListSaved returns saved listings sorted by saved_at descending.
func (db *DB) ListSaved() ([]SavedListing, error) {
	rows, err := db.Query(`
		SELECT listing_id, user_id, title, price_cents, address, poster_email, photo_url, saved_at, placeholder
		FROM saved_listings
		ORDER BY saved_at DESC, listing_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []SavedListing
	for rows.Next() {
		var e SavedListing
		if err := rows.Scan(&e.ListingID, &e.UserID, &e.Title, &e.PriceCents, &e.Address,
			&e.PosterEmail, &e.PhotoURL, &e.SavedAt, &e.Placeholder); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceAllSaved atomically replaces the saved-listings cache. Used when
// local state cannot be trusted and a full resync from the remote store is
// the safe option.
func (db *DB) ReplaceAllSaved(entries []SavedListing) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM saved_listings`); err != nil {
		return fmt.Errorf("clear saved listings: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO saved_listings
				(listing_id, user_id, title, price_cents, address, poster_email, photo_url, saved_at, placeholder)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			e.ListingID, e.UserID, e.Title, e.PriceCents, e.Address, e.PosterEmail, e.PhotoURL, e.SavedAt); err != nil {
			return fmt.Errorf("insert saved listing %s: %w", e.ListingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// UpsertProfile caches a user profile.
func (db *DB) UpsertProfile(p *Profile) error {
	_, err := db.Exec(`
		INSERT INTO profiles (id, first_name, last_name, email, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			cached_at = excluded.cached_at`,
		p.ID, p.FirstName, p.LastName, p.Email, time.Now().UnixMilli())
	return err
}

// GetProfile returns a cached profile, or nil when unknown.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, first_name, last_name, email, cached_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
