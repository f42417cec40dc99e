// Package cache is the local-first read layer over the reconciliation
// store: conversation lists, single conversations, and message pages are
// served from memory and refreshed through loader callbacks on miss. Store
// mutations invalidate explicitly; a short TTL on message pages is the
// safety net for pagination cursors the tracker never saw.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/omnidesk/omnisync/internal/store"
)

// Config sizes the cache. Zero values fall back to defaults.
type Config struct {
	ListEntries         int
	ConversationEntries int
	PageEntries         int
	TTL                 time.Duration
	PageTTL             time.Duration
	HotLimit            int
	HotWindow           time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListEntries <= 0 {
		c.ListEntries = 256
	}
	if c.ConversationEntries <= 0 {
		c.ConversationEntries = 2048
	}
	if c.PageEntries <= 0 {
		c.PageEntries = 1024
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.PageTTL <= 0 {
		c.PageTTL = time.Minute
	}
	if c.HotLimit <= 0 {
		c.HotLimit = 20
	}
	if c.HotWindow <= 0 {
		c.HotWindow = time.Hour
	}
	return c
}

type hotEntry struct {
	conversationID int64
	accessedAt     time.Time
}

// Cache holds the three read-through caches plus hot-conversation tracking.
type Cache struct {
	cfg   Config
	lists *expirable.LRU[string, []store.Conversation]
	convs *expirable.LRU[int64, *store.Conversation]
	pages *expirable.LRU[string, []store.Message]

	mu       sync.Mutex
	pageKeys map[int64]map[string]struct{}
	listKeys map[string]map[string]struct{}
	hot      map[string][]hotEntry

	now func() time.Time
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:      cfg,
		lists:    expirable.NewLRU[string, []store.Conversation](cfg.ListEntries, nil, cfg.TTL),
		convs:    expirable.NewLRU[int64, *store.Conversation](cfg.ConversationEntries, nil, cfg.TTL),
		pages:    expirable.NewLRU[string, []store.Message](cfg.PageEntries, nil, cfg.PageTTL),
		pageKeys: make(map[int64]map[string]struct{}),
		listKeys: make(map[string]map[string]struct{}),
		hot:      make(map[string][]hotEntry),
		now:      time.Now,
	}
}

// AccountKey builds the cache scope for one channel/account pair.
func AccountKey(channelType, accountID string) string {
	return channelType + ":" + accountID
}

func listKey(accountKey, filter string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(filter))
	return fmt.Sprintf("%s:list:%08x", accountKey, h.Sum32())
}

func pageKey(conversationID int64, cursor int64, limit int) string {
	return fmt.Sprintf("conv:%d:page:%d:%d", conversationID, cursor, limit)
}

// Conversations serves the conversation list for an account, falling through
// to load on miss.
func (c *Cache) Conversations(accountKey, filter string, load func() ([]store.Conversation, error)) ([]store.Conversation, error) {
	key := listKey(accountKey, filter)
	if v, ok := c.lists.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.lists.Add(key, v)
	c.track(c.listKeys, accountKey, key)
	return v, nil
}

// Conversation serves one conversation by id, falling through on miss.
func (c *Cache) Conversation(id int64, load func() (*store.Conversation, error)) (*store.Conversation, error) {
	if v, ok := c.convs.Get(id); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if v != nil {
		c.convs.Add(id, v)
	}
	return v, nil
}

// MessagePage serves one page of a conversation's messages, keyed by
// pagination cursor and limit, falling through on miss.
func (c *Cache) MessagePage(conversationID int64, cursor int64, limit int, load func() ([]store.Message, error)) ([]store.Message, error) {
	key := pageKey(conversationID, cursor, limit)
	if v, ok := c.pages.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.pages.Add(key, v)
	c.trackPage(conversationID, key)
	return v, nil
}

// InvalidateConversation drops (a) the conversation entry, (b) every tracked
// message-page entry for it, and (c) the conversation-list entries for the
// owning account. Called by the sync and webhook paths after each store
// mutation.
func (c *Cache) InvalidateConversation(accountKey string, conversationID int64) {
	c.convs.Remove(conversationID)

	c.mu.Lock()
	for key := range c.pageKeys[conversationID] {
		c.pages.Remove(key)
	}
	delete(c.pageKeys, conversationID)
	for key := range c.listKeys[accountKey] {
		c.lists.Remove(key)
	}
	delete(c.listKeys, accountKey)
	c.mu.Unlock()
}

// MarkAccessed records a conversation read for hot tracking. The per-account
// hot list is bounded and drops entries older than the hot window.
func (c *Cache) MarkAccessed(accountKey string, conversationID int64) {
	now := c.now()
	cutoff := now.Add(-c.cfg.HotWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.hot[accountKey]
	kept := entries[:0]
	for _, e := range entries {
		if e.conversationID != conversationID && e.accessedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	kept = append([]hotEntry{{conversationID: conversationID, accessedAt: now}}, kept...)
	if len(kept) > c.cfg.HotLimit {
		kept = kept[:c.cfg.HotLimit]
	}
	c.hot[accountKey] = kept
}

// HotConversations returns conversation ids accessed within the hot window,
// most recent first, for preloading.
func (c *Cache) HotConversations(accountKey string) []int64 {
	cutoff := c.now().Add(-c.cfg.HotWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int64
	for _, e := range c.hot[accountKey] {
		if e.accessedAt.After(cutoff) {
			ids = append(ids, e.conversationID)
		}
	}
	return ids
}

func (c *Cache) track(m map[string]map[string]struct{}, scope, key string) {
	c.mu.Lock()
	if m[scope] == nil {
		m[scope] = make(map[string]struct{})
	}
	m[scope][key] = struct{}{}
	c.mu.Unlock()
}

func (c *Cache) trackPage(conversationID int64, key string) {
	c.mu.Lock()
	if c.pageKeys[conversationID] == nil {
		c.pageKeys[conversationID] = make(map[string]struct{})
	}
	c.pageKeys[conversationID][key] = struct{}{}
	c.mu.Unlock()
}
