package sync

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/omnidesk/omnisync/internal/cache"
	"github.com/omnidesk/omnisync/internal/store"
)

// Read operations for hosts embedding the engine (RPC surfaces, TUIs).
// All reads go through the cache; the write paths invalidate it.

// Conversations returns one page of an account's conversations, most recent
// activity first.
func (e *Engine) Conversations(accountID string, limit, offset int) ([]store.Conversation, error) {
	ch, err := e.db.GetChannelByAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if ch == nil {
		return nil, nil
	}
	key := cache.AccountKey(ch.ChannelType, accountID)
	filter := fmt.Sprintf("limit=%d&offset=%d", limit, offset)
	return e.cache.Conversations(key, filter, func() ([]store.Conversation, error) {
		return e.db.ListConversations(ch.ID, limit, offset)
	})
}

// Conversation returns one conversation by id, or nil.
func (e *Engine) Conversation(id int64) (*store.Conversation, error) {
	return e.cache.Conversation(id, func() (*store.Conversation, error) {
		return e.db.GetConversation(id)
	})
}

// ConversationMessages returns one page of a conversation's messages (keyset
// by sent time, newest first) and records the access for hot-conversation
// tracking.
func (e *Engine) ConversationMessages(accountID string, conversationID int64, beforeTs int64, limit int) ([]store.Message, error) {
	ch, err := e.db.GetChannelByAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if ch == nil {
		return nil, nil
	}

	msgs, err := e.cache.MessagePage(conversationID, beforeTs, limit, func() ([]store.Message, error) {
		return e.db.ListMessages(conversationID, beforeTs, limit)
	})
	if err != nil {
		return nil, err
	}

	e.cache.MarkAccessed(cache.AccountKey(ch.ChannelType, accountID), conversationID)
	if err := e.db.TouchConversationAccess(conversationID, e.now().UnixMilli()); err != nil {
		e.log.Warn("touch conversation access", zap.Error(err))
	}
	return msgs, nil
}

// HotConversations returns the ids of conversations read within the last
// hour, most recent first, for preloading by the host.
func (e *Engine) HotConversations(accountID string) ([]int64, error) {
	ch, err := e.db.GetChannelByAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if ch == nil {
		return nil, nil
	}
	return e.cache.HotConversations(cache.AccountKey(ch.ChannelType, accountID)), nil
}
