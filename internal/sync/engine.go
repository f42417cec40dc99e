// Package sync orchestrates the two write paths into the store: historical
// API sync (paged, resumable, per-conversation error isolation) and realtime
// webhook ingestion. Both paths converge on the store's idempotent upserts,
// so they can run concurrently against the same account.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnidesk/omnisync/internal/bus"
	"github.com/omnidesk/omnisync/internal/cache"
	"github.com/omnidesk/omnisync/internal/identity"
	"github.com/omnidesk/omnisync/internal/naming"
	"github.com/omnidesk/omnisync/internal/normalize"
	"github.com/omnidesk/omnisync/internal/provider"
	"github.com/omnidesk/omnisync/internal/status"
	"github.com/omnidesk/omnisync/internal/store"
)

// ErrSyncInProgress is returned when a second sync is requested for an
// account that already has one running. Syncs are sequential per account;
// only webhook ingestion runs alongside.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// Config holds engine tunables. Zero values fall back to defaults.
type Config struct {
	PageSize           int           // provider page size for chats and messages
	MaxRetries         int           // transient retries per provider call
	RetryBackoff       time.Duration // base backoff, doubled per attempt
	DefaultChannelType string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.DefaultChannelType == "" {
		c.DefaultChannelType = "whatsapp"
	}
	return c
}

// Options scope one SyncAccount invocation.
type Options struct {
	ChannelType        string // defaults to Config.DefaultChannelType
	BusinessIdentifier string // the account's own provider address
}

// Engine drives both write paths.
type Engine struct {
	db     *store.DB
	client provider.Client
	cache  *cache.Cache
	bus    *bus.Bus
	log    *zap.Logger
	cfg    Config

	mu      gosync.Mutex
	running map[string]bool

	now func() time.Time
}

// New creates an engine.
func New(db *store.DB, client provider.Client, c *cache.Cache, b *bus.Bus, log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		db:      db,
		client:  client,
		cache:   c,
		bus:     b,
		log:     log,
		cfg:     cfg.withDefaults(),
		running: make(map[string]bool),
		now:     time.Now,
	}
}

// SyncAccount runs a full historical sync for one account: enumerate
// conversations page by page, and for each one pull attendees and messages
// into the store. Per-conversation failures are accumulated and the run
// continues; auth failures and cancellation end the run. Re-invocation is
// idempotent: everything lands on the store's upserts.
func (e *Engine) SyncAccount(ctx context.Context, accountID string, opts Options) (*Result, error) {
	if !e.acquire(accountID) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrSyncInProgress)
	}
	defer e.release(accountID)

	if opts.ChannelType == "" {
		opts.ChannelType = e.cfg.DefaultChannelType
	}
	ch, err := e.db.GetOrCreateChannel(accountID, opts.ChannelType, opts.BusinessIdentifier)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}

	run := status.NewRun(accountID, e.bus)
	res := &Result{RunID: run.ID(), AccountID: accountID}
	log := e.log.With(zap.String("account_id", accountID), zap.String("run_id", run.ID()))
	log.Info("starting historical sync")

	acct := identity.AccountContext{
		AccountID:       accountID,
		ChannelType:     ch.ChannelType,
		BusinessAddress: ch.BusinessIdentifier,
	}

	_ = run.Transition(status.Enumerating)

	cursor := ""
	for {
		var page *provider.Page
		err := e.withRetry(ctx, func() error {
			var perr error
			page, perr = e.client.ListConversations(ctx, accountID, e.cfg.PageSize, cursor)
			return perr
		})
		if err != nil {
			return e.failRun(run, ch, res, log, fmt.Errorf("list conversations: %w", err))
		}

		for _, raw := range page.Items {
			// Cancellation is honored at conversation boundaries only, so a
			// conversation is either fully attempted or not started.
			if ctx.Err() != nil {
				return e.cancelRun(run, ch, res, log, ctx.Err())
			}
			_ = run.Transition(status.Processing)

			threadID, msgs, atts, convErr := e.syncConversation(ctx, ch, acct, raw)
			res.MessagesSynced += msgs
			res.AttendeesSynced += atts
			if convErr != nil {
				if provider.IsAuthError(convErr) {
					return e.failRun(run, ch, res, log, convErr)
				}
				log.Warn("conversation sync failed",
					zap.String("thread_id", threadID), zap.Error(convErr))
				res.Errors = append(res.Errors, ConvError{ThreadID: threadID, Err: convErr})
			}
			res.ConversationsSynced++

			e.bus.Publish(bus.Event{
				Kind: bus.KindSyncProgress,
				Payload: bus.ProgressPayload{
					RunID:                  run.ID(),
					AccountID:              accountID,
					CurrentStep:            "processing_conversation",
					ConversationsProcessed: res.ConversationsSynced,
					MessagesProcessed:      res.MessagesSynced,
				},
			})
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		_ = run.Transition(status.Enumerating)
	}

	res.Success = true
	if err := e.db.RecordSyncSuccess(ch.ID, e.now().UnixMilli()); err != nil {
		log.Warn("record sync success", zap.Error(err))
	}
	_ = run.Transition(status.Completed)
	log.Info("historical sync completed",
		zap.Int("conversations", res.ConversationsSynced),
		zap.Int("messages", res.MessagesSynced),
		zap.Int("attendees", res.AttendeesSynced),
		zap.Int("errors", len(res.Errors)))
	e.bus.Publish(bus.Event{Kind: bus.KindSyncCompleted, Payload: runPayload(res)})
	return res, nil
}

// syncConversation pulls one conversation's attendees, upserts the
// conversation, and pages through its messages.
func (e *Engine) syncConversation(ctx context.Context, ch *store.Channel, acct identity.AccountContext, raw map[string]any) (threadID string, msgs, atts int, err error) {
	nc := normalize.Conversation(raw, normalize.SourceAPI)
	threadID = nc.ExternalThreadID
	if threadID == "" {
		return "", 0, 0, errors.New("conversation payload without id")
	}

	atts, names, err := e.syncAttendees(ctx, ch, threadID)
	if err != nil {
		return threadID, 0, atts, err
	}

	conv, err := e.upsertConversation(ch, acct, nc, names)
	if err != nil {
		return threadID, 0, atts, err
	}

	msgs, err = e.syncMessages(ctx, ch, acct, conv)
	syncStatus, errMsg := "synced", ""
	if err != nil {
		syncStatus, errMsg = "failed", err.Error()
		if msgs > 0 {
			syncStatus = "partial"
		}
	}
	if serr := e.db.MarkConversationSync(conv.ID, syncStatus, errMsg); serr != nil && err == nil {
		err = serr
	}

	e.invalidateAndAnnounce(ch, conv.ID)
	return threadID, msgs, atts, err
}

// syncAttendees upserts the conversation's participants and returns the
// first non-self display name seen, for conversation naming.
func (e *Engine) syncAttendees(ctx context.Context, ch *store.Channel, threadID string) (int, string, error) {
	var page *provider.Page
	err := e.withRetry(ctx, func() error {
		var perr error
		page, perr = e.client.ListConversationAttendees(ctx, threadID)
		return perr
	})
	if err != nil {
		return 0, "", fmt.Errorf("list attendees: %w", err)
	}

	count := 0
	name := ""
	for _, raw := range page.Items {
		na := normalize.Attendee(raw, normalize.SourceAPI)
		if na.ExternalID == "" && na.ProviderID == "" {
			continue
		}
		if _, err := e.db.UpsertAttendee(&store.Attendee{
			ChannelID:          ch.ID,
			ExternalAttendeeID: na.ExternalID,
			ProviderID:         na.ProviderID,
			Name:               na.Name,
			PictureURL:         na.PictureURL,
			IsSelf:             na.IsSelf,
			SyncStatus:         "synced",
			Metadata:           rawJSON(raw),
		}); err != nil {
			return count, name, fmt.Errorf("upsert attendee: %w", err)
		}
		count++
		if name == "" && !na.IsSelf && na.Name != "" {
			name = na.Name
		}
	}
	return count, name, nil
}

func (e *Engine) upsertConversation(ch *store.Channel, acct identity.AccountContext, nc normalize.NormalizedConversation, attendeeName string) (*store.Conversation, error) {
	subject := nc.Subject
	if subject == "" {
		res := identity.Resolve(acct, withChatID(nc.Raw, nc.ExternalThreadID), "")
		info := naming.ContactInfo{
			DisplayName: res.DisplayName,
			Phone:       res.ContactPhone,
			Email:       res.ContactEmail,
		}
		if info.DisplayName == "" {
			info.DisplayName = attendeeName
		}
		subject = naming.Generate(ch.ChannelType, info, "", nc.ExternalThreadID)
	}

	convStatus := "active"
	if nc.Archived {
		convStatus = "archived"
	}
	conv := &store.Conversation{
		ChannelID:        ch.ID,
		ExternalThreadID: nc.ExternalThreadID,
		Subject:          subject,
		Status:           convStatus,
		UnreadCount:      nc.UnreadCount,
		Metadata:         rawJSON(nc.Raw),
	}
	if !nc.LastMessageAt.IsZero() {
		conv.LastMessageAt = nc.LastMessageAt.UnixMilli()
	}
	if _, err := e.db.UpsertConversation(conv); err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return conv, nil
}

// syncMessages pages through a conversation's history. An oversized-page
// rejection halves the page size and retries; transient failures retry with
// backoff. Each message commits individually, so partial progress survives
// a mid-conversation failure.
func (e *Engine) syncMessages(ctx context.Context, ch *store.Channel, acct identity.AccountContext, conv *store.Conversation) (int, error) {
	created := 0
	limit := e.cfg.PageSize
	cursor := ""
	for {
		var page *provider.Page
		err := e.withRetry(ctx, func() error {
			var perr error
			page, perr = e.client.ListMessages(ctx, conv.ExternalThreadID, acct.AccountID, limit, cursor)
			return perr
		})
		if err != nil {
			if provider.IsOversizedPage(err) && limit > 1 {
				limit /= 2
				continue
			}
			return created, fmt.Errorf("list messages: %w", err)
		}

		for _, raw := range page.Items {
			ok, err := e.storeHistoricalMessage(ch, acct, conv, raw)
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}

		if page.NextCursor == "" {
			return created, nil
		}
		cursor = page.NextCursor
	}
}

func (e *Engine) storeHistoricalMessage(ch *store.Channel, acct identity.AccountContext, conv *store.Conversation, raw map[string]any) (bool, error) {
	nm := normalize.Message(raw, normalize.SourceAPI)
	res := identity.Resolve(acct, withChatID(raw, conv.ExternalThreadID), "")

	msgStatus := nm.Status
	if msgStatus == "" {
		msgStatus = "delivered"
	}
	msg := &store.Message{
		ChannelID:         ch.ID,
		ConversationID:    conv.ID,
		ExternalMessageID: nm.ExternalID,
		Direction:         string(res.Direction),
		Content:           nm.Content,
		Subject:           nm.Subject,
		ContactEmail:      res.ContactEmail,
		ContactPhone:      res.ContactPhone,
		Status:            msgStatus,
		ReceivedAt:        e.now().UnixMilli(),
		SyncStatus:        "synced",
		Metadata:          messageMetadata(nm, res),
	}
	if !nm.SentAt.IsZero() {
		msg.SentAt = nm.SentAt.UnixMilli()
	}
	// Historical pulls never bump unread: the conversation payload's
	// unread_count is authoritative for this path.
	created, err := e.db.UpsertHistoricalMessage(msg)
	if err != nil {
		return false, fmt.Errorf("upsert message %s: %w", nm.ExternalID, err)
	}
	if created {
		e.publishMessage(bus.KindNewMessage, ch, conv, msg)
	}
	return created, nil
}

// withRetry runs a provider call, retrying transient failures with doubling
// backoff. Non-transient errors return immediately.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := e.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !provider.IsTransient(err) || attempt >= e.cfg.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (e *Engine) failRun(run *status.Run, ch *store.Channel, res *Result, log *zap.Logger, err error) (*Result, error) {
	res.Success = false
	if derr := e.db.RecordSyncError(ch.ID, err.Error()); derr != nil {
		log.Warn("record sync error", zap.Error(derr))
	}
	if provider.IsAuthError(err) {
		if derr := e.db.SetChannelStatus(ch.ID, "auth_error"); derr != nil {
			log.Warn("set channel status", zap.Error(derr))
		}
	}
	_ = run.Transition(status.Failed)
	log.Error("historical sync failed", zap.Error(err))
	p := runPayload(res)
	p.Error = err.Error()
	e.bus.Publish(bus.Event{Kind: bus.KindSyncFailed, Payload: p})
	return res, err
}

func (e *Engine) cancelRun(run *status.Run, ch *store.Channel, res *Result, log *zap.Logger, err error) (*Result, error) {
	res.Success = false
	_ = run.Transition(status.Cancelled)
	log.Info("historical sync cancelled",
		zap.Int("conversations", res.ConversationsSynced),
		zap.Int("messages", res.MessagesSynced))
	p := runPayload(res)
	p.Error = err.Error()
	e.bus.Publish(bus.Event{Kind: bus.KindSyncFailed, Payload: p})
	return res, err
}

// invalidateAndAnnounce drops the conversation's cache entries and publishes
// its refreshed counters.
func (e *Engine) invalidateAndAnnounce(ch *store.Channel, convID int64) {
	e.cache.InvalidateConversation(cache.AccountKey(ch.ChannelType, ch.AccountID), convID)

	conv, err := e.db.GetConversation(convID)
	if err != nil || conv == nil {
		return
	}
	p := bus.ConversationPayload{
		AccountID:        ch.AccountID,
		ConversationID:   strconv.FormatInt(conv.ID, 10),
		ExternalThreadID: conv.ExternalThreadID,
		Subject:          conv.Subject,
		MessageCount:     conv.MessageCount,
		UnreadCount:      conv.UnreadCount,
	}
	if conv.LastMessageAt > 0 {
		p.LastMessageAt = time.UnixMilli(conv.LastMessageAt).UTC().Format(time.RFC3339)
	}
	e.bus.Publish(bus.Event{Kind: bus.KindConversationUpdated, Payload: p})
}

func (e *Engine) publishMessage(kind string, ch *store.Channel, conv *store.Conversation, msg *store.Message) {
	p := bus.MessagePayload{
		AccountID:        ch.AccountID,
		ConversationID:   strconv.FormatInt(conv.ID, 10),
		ExternalThreadID: conv.ExternalThreadID,
		MessageID:        strconv.FormatInt(msg.ID, 10),
		ExternalID:       msg.ExternalMessageID,
		Direction:        msg.Direction,
		Status:           msg.Status,
	}
	if msg.SentAt > 0 {
		p.SentAt = time.UnixMilli(msg.SentAt).UTC().Format(time.RFC3339)
	}
	e.bus.Publish(bus.Event{Kind: kind, Payload: p})
}

func (e *Engine) acquire(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[accountID] {
		return false
	}
	e.running[accountID] = true
	return true
}

func (e *Engine) release(accountID string) {
	e.mu.Lock()
	delete(e.running, accountID)
	e.mu.Unlock()
}

func runPayload(res *Result) bus.RunPayload {
	return bus.RunPayload{
		RunID:               res.RunID,
		AccountID:           res.AccountID,
		Success:             res.Success,
		ConversationsSynced: res.ConversationsSynced,
		MessagesSynced:      res.MessagesSynced,
		AttendeesSynced:     res.AttendeesSynced,
		ErrorCount:          len(res.Errors),
	}
}

// withChatID makes the owning chat id visible to the identity resolver for
// records that don't carry it themselves. The input map is not mutated.
func withChatID(raw map[string]any, threadID string) map[string]any {
	if threadID == "" {
		return raw
	}
	for _, k := range []string{"provider_chat_id", "chat_id", "chatId", "conversation_id"} {
		if v, ok := raw[k].(string); ok && v != "" {
			return raw
		}
	}
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out["provider_chat_id"] = threadID
	return out
}

// messageMetadata builds the metadata blob persisted with a message:
// resolution provenance, the coerced attachment list, and the raw provider
// payload.
func messageMetadata(nm normalize.NormalizedMessage, res identity.Resolution) string {
	meta := map[string]any{
		"strategy":   res.Strategy,
		"confidence": string(res.Confidence),
		"raw":        nm.Raw,
	}
	if len(nm.Attachments) > 0 {
		atts := make([]map[string]any, 0, len(nm.Attachments))
		for _, a := range nm.Attachments {
			atts = append(atts, map[string]any{
				"id":            a.ID,
				"mime_type":     a.MimeType,
				"filename":      a.Filename,
				"url":           a.URL,
				"size":          a.Size,
				"thumbnail_url": a.ThumbnailURL,
			})
		}
		meta["attachments"] = atts
	}
	return rawJSON(meta)
}

func rawJSON(raw map[string]any) string {
	if len(raw) == 0 {
		return "{}"
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "{}"
	}
	return string(b)
}
