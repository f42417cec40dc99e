package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/omnidesk/omnisync/internal/bus"
	"github.com/omnidesk/omnisync/internal/identity"
	"github.com/omnidesk/omnisync/internal/naming"
	"github.com/omnidesk/omnisync/internal/normalize"
	"github.com/omnidesk/omnisync/internal/provider"
	"github.com/omnidesk/omnisync/internal/store"
)

// HandleWebhook applies one realtime provider event to the store. Message
// events create or merge the message (redelivery is a no-op); delivery and
// read receipts advance message status monotonically. Webhook payloads carry
// no authoritative timestamp, so created messages are stamped with ingestion
// time.
func (e *Engine) HandleWebhook(ctx context.Context, evt provider.WebhookEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.AccountID == "" {
		return errors.New("webhook event without account id")
	}

	ch, err := e.db.GetChannelByAccount(evt.AccountID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	if ch == nil {
		channelType := e.cfg.DefaultChannelType
		if ct, ok := evt.Payload["channel_type"].(string); ok && ct != "" {
			channelType = ct
		}
		ch, err = e.db.GetOrCreateChannel(evt.AccountID, channelType, "")
		if err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
	}

	switch evt.EventType {
	case provider.EventMessageReceived, provider.EventMessageSent:
		return e.ingestWebhookMessage(ch, evt)
	case provider.EventMessageDelivered:
		return e.advanceStatus(ch, evt, "delivered")
	case provider.EventMessageRead:
		return e.advanceStatus(ch, evt, "read")
	default:
		e.log.Debug("ignoring webhook event",
			zap.String("event_type", evt.EventType),
			zap.String("account_id", evt.AccountID))
		return nil
	}
}

func (e *Engine) ingestWebhookMessage(ch *store.Channel, evt provider.WebhookEvent) error {
	raw := webhookRaw(evt)

	nm := normalize.Message(raw, normalize.SourceWebhook)
	if nm.ExternalID == "" {
		nm.ExternalID = evt.MessageID
	}
	acct := identity.AccountContext{
		AccountID:       ch.AccountID,
		ChannelType:     ch.ChannelType,
		BusinessAddress: ch.BusinessIdentifier,
	}
	res := identity.Resolve(acct, raw, evt.EventType)

	threadID := evt.ChatID
	if threadID == "" {
		threadID = normalize.Conversation(raw, normalize.SourceWebhook).ExternalThreadID
	}
	if threadID == "" {
		return errors.New("webhook message without chat id")
	}

	conv, err := e.webhookConversation(ch, res, threadID, nm.Content)
	if err != nil {
		return err
	}

	msgStatus := nm.Status
	if msgStatus == "" {
		if evt.EventType == provider.EventMessageSent {
			msgStatus = "sent"
		} else {
			msgStatus = "delivered"
		}
	}
	now := e.now().UnixMilli()
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
		SentAt:            now,
		ReceivedAt:        now,
		SyncStatus:        "synced",
		Metadata:          messageMetadata(nm, res),
	}
	created, err := e.db.UpsertMessage(msg)
	if err != nil {
		return fmt.Errorf("upsert webhook message: %w", err)
	}
	if created {
		e.publishMessage(bus.KindNewMessage, ch, conv, msg)
	}

	e.invalidateAndAnnounce(ch, conv.ID)
	return nil
}

// webhookConversation gets or creates the target conversation. Names are
// generated only at creation; resyncs and later webhooks never rename.
func (e *Engine) webhookConversation(ch *store.Channel, res identity.Resolution, threadID, content string) (*store.Conversation, error) {
	conv, err := e.db.GetConversationByThread(ch.ID, threadID)
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	subject := naming.Generate(ch.ChannelType, naming.ContactInfo{
		DisplayName: res.DisplayName,
		Phone:       res.ContactPhone,
		Email:       res.ContactEmail,
	}, content, threadID)

	conv = &store.Conversation{
		ChannelID:        ch.ID,
		ExternalThreadID: threadID,
		Subject:          subject,
		Status:           "active",
		SyncStatus:       "pending", // history not pulled yet
	}
	if _, err := e.db.UpsertConversation(conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// advanceStatus applies a delivery or read receipt. Receipts for unknown
// messages and out-of-order receipts are silently dropped.
func (e *Engine) advanceStatus(ch *store.Channel, evt provider.WebhookEvent, to string) error {
	extID := evt.MessageID
	if extID == "" {
		extID = normalize.Message(webhookRaw(evt), normalize.SourceWebhook).ExternalID
	}
	if extID == "" {
		return errors.New("receipt without message id")
	}

	changed, err := e.db.AdvanceMessageStatus(ch.ID, extID, to)
	if err != nil {
		return fmt.Errorf("advance message status: %w", err)
	}
	if !changed {
		return nil
	}

	msg, err := e.db.GetMessageByExternalID(ch.ID, extID)
	if err != nil || msg == nil {
		return err
	}
	if msg.ConversationID != 0 {
		conv, err := e.db.GetConversation(msg.ConversationID)
		if err == nil && conv != nil {
			e.publishMessage(bus.KindMessageUpdate, ch, conv, msg)
		}
		e.invalidateAndAnnounce(ch, msg.ConversationID)
	}
	return nil
}

// webhookRaw merges the envelope identifiers into the payload so the
// normalizer and resolver see one flat shape. The caller's map is not
// mutated.
func webhookRaw(evt provider.WebhookEvent) map[string]any {
	raw := make(map[string]any, len(evt.Payload)+2)
	for k, v := range evt.Payload {
		raw[k] = v
	}
	if evt.ChatID != "" {
		if _, ok := raw["chat_id"]; !ok {
			raw["chat_id"] = evt.ChatID
		}
	}
	if evt.MessageID != "" {
		if _, ok := raw["message_id"]; !ok {
			raw["message_id"] = evt.MessageID
		}
	}
	return raw
}
