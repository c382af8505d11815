package saved

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campussublets/subletd/internal/bus"
	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/store"
	"go.uber.org/zap"
)

// Backend is the subset of remote store operations the coordinator needs.
type Backend interface {
	InsertSaved(ctx context.Context, userID, listingID string) error
	DeleteSaved(ctx context.Context, userID, listingID string) error
	ListSaved(ctx context.Context, userID string) ([]remote.SavedRecord, error)
	GetSublet(ctx context.Context, id string) (*remote.Sublet, error)
	GetProfile(ctx context.Context, id string) (*remote.Profile, error)
}

// op is the in-flight toggle state for one listing id. Absence from the map
// means "trust the cache".
type op struct {
	token    uint64
	intended bool
}

// Coordinator applies save/unsave toggles optimistically and guarantees
// that rapid repeated toggles on the same listing converge: a new toggle
// supersedes the previous one's token, and a superseded call abandons all
// further state mutation the moment it notices.
type Coordinator struct {
	db      *store.DB
	backend Backend
	session remote.Session
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.Mutex
	nextToken uint64
	ops       map[string]op
}

// NewCoordinator creates a saved-listings toggle coordinator.
func NewCoordinator(db *store.DB, backend Backend, session remote.Session, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:      db,
		backend: backend,
		session: session,
		bus:     b,
		logger:  logger,
		ops:     make(map[string]op),
	}
}

// IsSaved reports the intended state when a toggle is in flight for the
// listing, otherwise whether the listing is in the cache.
func (c *Coordinator) IsSaved(listingID string) (bool, error) {
	c.mu.Lock()
	if o, ok := c.ops[listingID]; ok {
		c.mu.Unlock()
		return o.intended, nil
	}
	c.mu.Unlock()
	return c.db.HasSaved(listingID)
}

// IsSaving reports whether a toggle is currently in flight for the listing.
func (c *Coordinator) IsSaving(listingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[listingID]
	return ok
}

// ToggleSave flips the saved state of a listing: optimistic cache mutation
// first, remote mutation second, reconciliation last. Every step after a
// suspension point re-checks that this call's token is still current for
// the listing; a stale call abandons without touching state or notifying.
func (c *Coordinator) ToggleSave(ctx context.Context, listingID string) error {
	userID := c.session.UserID()
	if userID == "" {
		c.bus.Notify(bus.KindNoticeError, "sign in to save listings")
		return remote.ErrNotAuthenticated
	}

	// Allocate the token and apply the optimistic mutation atomically, so
	// the ops map and the cache never disagree about intent.
	c.mu.Lock()
	currently, err := c.db.HasSaved(listingID)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("read saved state: %w", err)
	}
	intended := !currently
	c.nextToken++
	token := c.nextToken
	c.ops[listingID] = op{token: token, intended: intended}

	if intended {
		err = c.db.InsertPlaceholder(listingID, userID, time.Now().UnixMilli())
	} else {
		err = c.db.RemoveSaved(listingID)
	}
	c.mu.Unlock()
	if err != nil {
		c.finish(listingID, token)
		return fmt.Errorf("optimistic mutation: %w", err)
	}
	c.publishUpdated()

	if intended {
		err = c.completeSave(ctx, userID, listingID, token)
	} else {
		err = c.completeRemove(ctx, userID, listingID, token)
	}
	c.finish(listingID, token)
	c.publishUpdated()
	return err
}

func (c *Coordinator) completeSave(ctx context.Context, userID, listingID string, token uint64) error {
	err := c.backend.InsertSaved(ctx, userID, listingID)
	if !c.isCurrent(listingID, token) {
		return nil
	}

	switch {
	case errors.Is(err, remote.ErrDuplicate):
		// Already saved remotely: benign. Drop the placeholder and trust
		// the remote list instead of local state.
		c.bus.Notify(bus.KindNoticeInfo, "listing is already saved")
		return c.resync(ctx, userID, listingID, token)

	case err != nil:
		// Revert the optimistic insert.
		if _, rerr := c.ifCurrent(listingID, token, func() error {
			return c.db.RemoveSaved(listingID)
		}); rerr != nil {
			c.logger.Error("failed to revert placeholder", zap.String("listing", listingID), zap.Error(rerr))
		}
		c.bus.Notify(bus.KindNoticeError, "could not save listing: "+err.Error())
		return fmt.Errorf("save listing: %w", err)
	}

	// Fill in the placeholder with the full listing and poster email.
	sub, err := c.backend.GetSublet(ctx, listingID)
	if !c.isCurrent(listingID, token) {
		return nil
	}
	if err != nil {
		// The row exists remotely; resync rather than leave a bare
		// placeholder or guess at details.
		c.logger.Warn("listing detail fetch failed, resyncing", zap.String("listing", listingID), zap.Error(err))
		return c.resync(ctx, userID, listingID, token)
	}

	email := ""
	prof, err := c.backend.GetProfile(ctx, sub.PosterID)
	if !c.isCurrent(listingID, token) {
		return nil
	}
	if err != nil {
		c.logger.Warn("poster profile fetch failed", zap.String("poster", sub.PosterID), zap.Error(err))
	} else {
		email = prof.Email
	}

	entry := store.SavedListing{
		ListingID:   listingID,
		UserID:      userID,
		Title:       sub.Title,
		PriceCents:  sub.PriceCents,
		Address:     sub.Address,
		PosterEmail: email,
		PhotoURL:    sub.PhotoURL,
		SavedAt:     time.Now().UnixMilli(),
	}
	if _, err := c.ifCurrent(listingID, token, func() error {
		return c.db.UpsertSaved(&entry)
	}); err != nil {
		return fmt.Errorf("store saved listing: %w", err)
	}
	c.bus.Notify(bus.KindNoticeInfo, "listing saved")
	return nil
}

func (c *Coordinator) completeRemove(ctx context.Context, userID, listingID string, token uint64) error {
	err := c.backend.DeleteSaved(ctx, userID, listingID)
	if !c.isCurrent(listingID, token) {
		return nil
	}
	if err != nil {
		// Reverting a removal by re-inserting a possibly-stale local copy
		// is unsafe; resync from the remote store instead.
		c.bus.Notify(bus.KindNoticeError, "could not remove saved listing: "+err.Error())
		if rerr := c.resync(ctx, userID, listingID, token); rerr != nil {
			return rerr
		}
		return fmt.Errorf("remove saved listing: %w", err)
	}
	c.bus.Notify(bus.KindNoticeInfo, "listing removed from saved")
	return nil
}

// Resync replaces the saved-listings cache with the remote state, fetching
// listing details and poster emails for each row. Used at daemon start and
// whenever local state cannot be trusted.
func (c *Coordinator) Resync(ctx context.Context) error {
	userID := c.session.UserID()
	if userID == "" {
		return c.db.ReplaceAllSaved(nil)
	}
	entries, err := c.fetchRemoteSaved(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.db.ReplaceAllSaved(entries); err != nil {
		return fmt.Errorf("replace saved cache: %w", err)
	}
	c.publishUpdated()
	return nil
}

// resync is the staleness-guarded variant used from toggle paths.
func (c *Coordinator) resync(ctx context.Context, userID, listingID string, token uint64) error {
	entries, err := c.fetchRemoteSaved(ctx, userID)
	if !c.isCurrent(listingID, token) {
		return nil
	}
	if err != nil {
		c.logger.Error("saved-listings resync failed", zap.Error(err))
		return err
	}
	if _, err := c.ifCurrent(listingID, token, func() error {
		return c.db.ReplaceAllSaved(entries)
	}); err != nil {
		return fmt.Errorf("replace saved cache: %w", err)
	}
	return nil
}

func (c *Coordinator) fetchRemoteSaved(ctx context.Context, userID string) ([]store.SavedListing, error) {
	records, err := c.backend.ListSaved(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved listings: %w", err)
	}

	entries := make([]store.SavedListing, 0, len(records))
	for _, rec := range records {
		entry := store.SavedListing{
			ListingID: rec.ListingID,
			UserID:    rec.UserID,
			SavedAt:   rec.CreatedAt.UnixMilli(),
		}
		sub, err := c.backend.GetSublet(ctx, rec.ListingID)
		if err != nil {
			// Keep the bare entry; details can be filled by a later resync.
			c.logger.Warn("listing detail fetch failed during resync",
				zap.String("listing", rec.ListingID), zap.Error(err))
			entries = append(entries, entry)
			continue
		}
		entry.Title = sub.Title
		entry.PriceCents = sub.PriceCents
		entry.Address = sub.Address
		entry.PhotoURL = sub.PhotoURL
		if prof, err := c.backend.GetProfile(ctx, sub.PosterID); err == nil {
			entry.PosterEmail = prof.Email
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// isCurrent reports whether token is still the active operation for the
// listing.
func (c *Coordinator) isCurrent(listingID string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.ops[listingID]
	return ok && o.token == token
}

// ifCurrent runs fn only while holding the lock with token still current,
// so a newer toggle cannot start between the check and the mutation.
// Returns whether fn ran.
func (c *Coordinator) ifCurrent(listingID string, token uint64, fn func() error) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.ops[listingID]
	if !ok || o.token != token {
		return false, nil
	}
	return true, fn()
}

// finish clears the in-flight state, but only when this call's token is
// still the current one for the listing.
func (c *Coordinator) finish(listingID string, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.ops[listingID]; ok && o.token == token {
		delete(c.ops, listingID)
	}
}

func (c *Coordinator) publishUpdated() {
	c.bus.Publish(bus.Event{Kind: bus.KindSavedUpdated, Timestamp: time.Now()})
}

// List returns the cached saved listings, most recently saved first.
func (c *Coordinator) List() ([]store.SavedListing, error) {
	return c.db.ListSaved()
}
