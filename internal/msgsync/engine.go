package msgsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campussublets/subletd/internal/bus"
	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/status"
	"github.com/campussublets/subletd/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend is the subset of remote store operations the engine needs.
type Backend interface {
	CountMessages(ctx context.Context, userID string) (int, error)
	ListMessagesPage(ctx context.Context, userID string, offset, limit int) ([]store.Message, error)
	InsertMessage(ctx context.Context, m *store.Message) error
	MarkMessagesRead(ctx context.Context, senderID, receiverID string) error
}

// Feed is one live change subscription.
type Feed interface {
	Changes() <-chan remote.Change
	Err() error
	Close() error
}

// FeedDialer opens change-feed subscriptions.
type FeedDialer interface {
	Subscribe(ctx context.Context, userID string) (Feed, error)
}

// Notifier is the fire-and-forget notification side-channel.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, senderID, receiverID, preview string) error
}

// Options tune fetch and retry behavior. Zero values select defaults.
type Options struct {
	PageSize       int
	PageDelay      time.Duration
	RetryBaseDelay time.Duration
	MaxAttempts    int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.PageDelay == 0 {
		o.PageDelay = 100 * time.Millisecond
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Engine keeps the local message cache consistent with the remote store:
// full counted+paginated fetches, idempotent merging of live feed events,
// read-state tracking, and bounded resubscription with a fetch fallback
// when the feed stays down.
type Engine struct {
	db       *store.DB
	backend  Backend
	dialer   FeedDialer
	notifier Notifier
	session  remote.Session
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger
	opts     Options

	fetchMu sync.Mutex
	loading atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a message sync engine.
func NewEngine(
	db *store.DB,
	backend Backend,
	dialer FeedDialer,
	notifier Notifier,
	session remote.Session,
	b *bus.Bus,
	machine *status.Machine,
	logger *zap.Logger,
	opts Options,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		backend:  backend,
		dialer:   dialer,
		notifier: notifier,
		session:  session,
		bus:      b,
		machine:  machine,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// Start launches the subscribe/consume loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
}

// Stop cancels any pending retry timer, closes the feed and waits for the
// loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	_ = e.machine.Transition(status.Stopped)
}

// IsLoading reports whether a full fetch is in flight.
func (e *Engine) IsLoading() bool {
	return e.loading.Load()
}

func (e *Engine) run(ctx context.Context) {
	userID := e.session.UserID()
	if userID == "" {
		e.logger.Warn("no authenticated user, live sync disabled")
		if err := e.FetchMessages(ctx); err != nil {
			e.logger.Warn("clearing message cache failed", zap.Error(err))
		}
		_ = e.machine.Transition(status.Stopped)
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		_ = e.machine.Transition(status.Connecting)

		feed, err := e.dialer.Subscribe(ctx, userID)
		if err != nil {
			attempt++
			e.logger.Warn("feed subscribe failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt >= e.opts.MaxAttempts {
				e.bus.Notify(bus.KindNoticeDegraded,
					"live updates unavailable, showing last fetched messages")
				if err := e.FetchMessages(ctx); err != nil {
					e.logger.Warn("fallback fetch failed", zap.Error(err))
				}
				_ = e.machine.Transition(status.Degraded)
				return
			}
			_ = e.machine.Transition(status.Retrying)
			// Linear backoff; the timer dies with the context on teardown.
			select {
			case <-time.After(time.Duration(attempt) * e.opts.RetryBaseDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		attempt = 0
		_ = e.machine.Transition(status.Live)
		// Catch anything sent while we were not subscribed.
		if err := e.FetchMessages(ctx); err != nil {
			e.logger.Warn("post-subscribe fetch failed", zap.Error(err))
		}

		e.consume(ctx, feed)
		_ = feed.Close()
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("feed dropped, reconnecting", zap.Error(feed.Err()))
	}
}

func (e *Engine) consume(ctx context.Context, feed Feed) {
	for {
		select {
		case change, ok := <-feed.Changes():
			if !ok {
				return
			}
			e.applyChange(change)
		case <-ctx.Done():
			return
		}
	}
}

// applyChange merges one pushed row into the cache. INSERTs and fetches are
// commutative: insert-if-absent keyed by id. UPDATEs only overwrite the
// read flag and are dropped when the row is not cached yet; the next fetch
// reconciles.
func (e *Engine) applyChange(change remote.Change) {
	m := change.Message
	switch change.Event {
	case remote.EventInsert:
		inserted, err := e.db.InsertMessageIfAbsent(&m)
		if err != nil {
			e.logger.Error("failed to merge pushed message", zap.Error(err), zap.String("msg_id", m.ID))
			return
		}
		if inserted {
			e.bus.Publish(bus.Event{
				Kind:      bus.KindMessageMerged,
				Timestamp: time.Now(),
				Payload:   m,
			})
		}
	case remote.EventUpdate:
		found, err := e.db.SetMessageRead(m.ID, m.IsRead)
		if err != nil {
			e.logger.Error("failed to apply read-state update", zap.Error(err), zap.String("msg_id", m.ID))
			return
		}
		if found {
			e.bus.Publish(bus.Event{
				Kind:      bus.KindMessagesReadState,
				Timestamp: time.Now(),
				Payload:   m,
			})
		}
	}
}

// FetchMessages replaces the local cache with the remote state of the
// user's messages. Pages of Options.PageSize are fetched ascending by
// timestamp with a short delay between pages. A first-page failure
// propagates; a later-page failure keeps the partial prefix.
func (e *Engine) FetchMessages(ctx context.Context) error {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	userID := e.session.UserID()
	if userID == "" {
		return e.replaceAll(nil)
	}

	e.setLoading(true)
	defer e.setLoading(false)

	total, err := e.backend.CountMessages(ctx, userID)
	if err != nil {
		e.notifyIfCacheEmpty("could not load your messages")
		return fmt.Errorf("count messages: %w", err)
	}
	if total == 0 {
		return e.replaceAll(nil)
	}

	var all []store.Message
	for offset := 0; offset < total; offset += e.opts.PageSize {
		if offset > 0 {
			select {
			case <-time.After(e.opts.PageDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		page, err := e.backend.ListMessagesPage(ctx, userID, offset, e.opts.PageSize)
		if err != nil {
			if offset == 0 {
				e.notifyIfCacheEmpty("could not load your messages")
				return fmt.Errorf("fetch first page: %w", err)
			}
			// Keep what we have instead of discarding everything.
			e.logger.Warn("page fetch failed, keeping partial result",
				zap.Int("offset", offset),
				zap.Int("fetched", len(all)),
				zap.Error(err))
			break
		}
		all = append(all, page...)
		if len(page) < e.opts.PageSize {
			break
		}
	}

	if err := e.replaceAll(all); err != nil {
		return err
	}
	if err := e.db.SetSyncState("last_full_fetch", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record fetch checkpoint", zap.Error(err))
	}
	return nil
}

func (e *Engine) replaceAll(msgs []store.Message) error {
	if err := e.db.ReplaceAllMessages(msgs); err != nil {
		return fmt.Errorf("replace message cache: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessagesReplaced,
		Timestamp: time.Now(),
		Payload:   len(msgs),
	})
	return nil
}

func (e *Engine) setLoading(v bool) {
	e.loading.Store(v)
	kind := bus.KindMessagesLoaded
	if v {
		kind = bus.KindMessagesLoading
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}

// notifyIfCacheEmpty surfaces a fetch failure only when there is no stale
// data to show; a populated cache fails quietly into staleness.
func (e *Engine) notifyIfCacheEmpty(text string) {
	n, err := e.db.CountMessages()
	if err != nil || n == 0 {
		e.bus.Notify(bus.KindNoticeError, text)
	}
}

// MarkMessagesAsRead marks every unread message from senderID to the
// current user as read, remotely then locally. Best effort: failures are
// logged, not surfaced.
func (e *Engine) MarkMessagesAsRead(ctx context.Context, senderID string) error {
	userID := e.session.UserID()
	if userID == "" {
		return remote.ErrNotAuthenticated
	}
	if err := e.backend.MarkMessagesRead(ctx, senderID, userID); err != nil {
		e.logger.Warn("remote mark-read failed", zap.String("sender", senderID), zap.Error(err))
		return nil
	}
	if err := e.db.MarkConversationRead(senderID, userID); err != nil {
		e.logger.Warn("local mark-read failed", zap.String("sender", senderID), zap.Error(err))
		return nil
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessagesReadState,
		Timestamp: time.Now(),
		Payload:   senderID,
	})
	return nil
}

// SendMessage creates a message addressed to receiverID. Whitespace-only
// text is a silent no-op. The message is not inserted locally: the feed
// echo or the next fetch materializes it, keeping the server as the single
// source of truth.
func (e *Engine) SendMessage(ctx context.Context, receiverID, text string) error {
	userID := e.session.UserID()
	if userID == "" {
		e.bus.Notify(bus.KindNoticeError, "sign in to send messages")
		return remote.ErrNotAuthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m := &store.Message{
		ID:         uuid.New().String(),
		SenderID:   userID,
		ReceiverID: receiverID,
		Body:       text,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := e.backend.InsertMessage(ctx, m); err != nil {
		e.bus.Notify(bus.KindNoticeError, "your message could not be sent")
		return fmt.Errorf("send message: %w", err)
	}

	// Fire-and-forget notification side-call. Never blocks or rolls back
	// the already-committed send.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.NotifyNewMessage(nctx, userID, receiverID, truncate(text, 100)); err != nil {
			e.logger.Warn("notification side-call failed", zap.Error(err))
		}
	}()
	return nil
}

// MessagesWith returns the conversation with otherID, ascending by time.
func (e *Engine) MessagesWith(otherID string) ([]store.Message, error) {
	return e.db.MessagesWith(e.session.UserID(), otherID)
}

// UnreadCount returns the number of unread messages from otherID.
func (e *Engine) UnreadCount(otherID string) (int, error) {
	return e.db.UnreadFrom(e.session.UserID(), otherID)
}

// TotalUnreadCount returns the number of unread messages across all
// conversations.
func (e *Engine) TotalUnreadCount() (int, error) {
	return e.db.TotalUnread(e.session.UserID())
}

// Contacts returns the derived contact list, most recent first.
func (e *Engine) Contacts() ([]store.Contact, error) {
	return e.db.Contacts(e.session.UserID())
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
