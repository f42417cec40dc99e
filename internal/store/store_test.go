package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
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

func testChannel(t *testing.T, db *DB) *Channel {
	t.Helper()
	ch, err := db.GetOrCreateChannel("acc-1", "whatsapp", "27820000000")
	if err != nil {
		t.Fatal(err)
	}
	return ch
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestGetOrCreateChannelLazy(t *testing.T) {
	db := testDB(t)

	ch1, err := db.GetOrCreateChannel("acc-1", "whatsapp", "27820000000")
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := db.GetOrCreateChannel("acc-1", "whatsapp", "27820000000")
	if err != nil {
		t.Fatal(err)
	}
	if ch1.ID != ch2.ID {
		t.Errorf("got two channels (%d, %d) for one account", ch1.ID, ch2.ID)
	}
	if ch1.Status != "active" {
		t.Errorf("status = %q, want active", ch1.Status)
	}
}

func TestUpsertConversationIdempotent(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	c := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1", Subject: "Alice"}
	created, err := db.UpsertConversation(c)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	again := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1", Subject: "Renamed"}
	created, err = db.UpsertConversation(again)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert should not create")
	}
	if again.ID != c.ID {
		t.Errorf("ids differ: %d vs %d", again.ID, c.ID)
	}

	stored, err := db.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Subject != "Alice" {
		t.Errorf("subject = %q, want Alice (resync must not rename)", stored.Subject)
	}
}

func TestUpsertConversationFillsBlankSubject(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	c := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	later := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1", Subject: "Found A Name"}
	if _, err := db.UpsertConversation(later); err != nil {
		t.Fatal(err)
	}
	stored, _ := db.GetConversation(c.ID)
	if stored.Subject != "Found A Name" {
		t.Errorf("subject = %q, want blank filled", stored.Subject)
	}
}

func TestUpsertAttendeeMerges(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	a := &Attendee{ChannelID: ch.ID, ExternalAttendeeID: "att-1", ProviderID: "27720720045@s.whatsapp.net", Name: "Alice"}
	created, err := db.UpsertAttendee(a)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	// Second pass with no name must not blank out the stored one.
	update := &Attendee{ChannelID: ch.ID, ExternalAttendeeID: "att-1", ProviderID: "27720720045@s.whatsapp.net"}
	created, err = db.UpsertAttendee(update)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert should merge, not create")
	}

	stored, err := db.GetAttendeeByProviderID(ch.ID, "27720720045@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Name != "Alice" {
		t.Errorf("stored = %+v, want name Alice preserved", stored)
	}
}

func TestUpsertAttendeeByProviderIDOnly(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	a := &Attendee{ChannelID: ch.ID, ProviderID: "jane@example.com", Name: "Jane"}
	if _, err := db.UpsertAttendee(a); err != nil {
		t.Fatal(err)
	}
	// A later record carrying the external id must attach to the same row.
	b := &Attendee{ChannelID: ch.ID, ExternalAttendeeID: "att-9", ProviderID: "jane@example.com"}
	created, err := db.UpsertAttendee(b)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("should merge on provider_id, not create")
	}
	if b.ID != a.ID {
		t.Errorf("ids differ: %d vs %d", b.ID, a.ID)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	conv := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	m := &Message{
		ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: "m1",
		Direction: "inbound", Content: "hello", Status: "delivered", SentAt: 1000,
	}
	created, err := db.UpsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	// Second upsert: content immutable, only mutable fields merge.
	again := &Message{
		ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: "m1",
		Direction: "inbound", Content: "TAMPERED", Status: "read", SentAt: 1000,
	}
	created, err = db.UpsertMessage(again)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert should merge")
	}

	msgs, err := db.ListMessages(conv.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("content = %q, want hello (immutable)", msgs[0].Content)
	}
	if msgs[0].Status != "read" {
		t.Errorf("status = %q, want read (mutable, advanced)", msgs[0].Status)
	}
}

func TestUpsertMessageUpdatesCounters(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	conv := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	for i, id := range []string{"m1", "m2"} {
		m := &Message{
			ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: id,
			Direction: "inbound", Status: "delivered", SentAt: int64(1000 + i),
		}
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	// Duplicate upsert must not bump counters again.
	dup := &Message{ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: "m2", Direction: "inbound", SentAt: 1001}
	if _, err := db.UpsertMessage(dup); err != nil {
		t.Fatal(err)
	}

	stored, err := db.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", stored.MessageCount)
	}
	if stored.UnreadCount != 2 {
		t.Errorf("unread_count = %d, want 2", stored.UnreadCount)
	}
	if stored.LastMessageAt != 1001 {
		t.Errorf("last_message_at = %d, want 1001", stored.LastMessageAt)
	}
}

// TestConcurrentUpsertSingleRow simulates the webhook + poller race: two
// writers upsert the same external message id simultaneously. Exactly one
// row must exist afterwards and both callers must get a valid reference.
func TestConcurrentUpsertSingleRow(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	conv := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	ids := make([]int64, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &Message{
				ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: "race-1",
				Direction: "inbound", Content: "hello", Status: "delivered", SentAt: 1000,
			}
			_, errs[i] = db.UpsertMessage(m)
			ids[i] = m.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
		if ids[i] == 0 {
			t.Errorf("writer %d: no message reference", i)
		}
	}

	msgs, err := db.ListMessages(conv.ID, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	stored, _ := db.GetConversation(conv.ID)
	if stored.MessageCount != 1 {
		t.Errorf("message_count = %d, want 1", stored.MessageCount)
	}
}

func TestAdvanceMessageStatusMonotonic(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	conv := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}
	m := &Message{ChannelID: ch.ID, ConversationID: conv.ID, ExternalMessageID: "m1", Direction: "outbound", Status: "sent", SentAt: 1000}
	if _, err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	changed, err := db.AdvanceMessageStatus(ch.ID, "m1", "read")
	if err != nil || !changed {
		t.Fatalf("advance to read: changed=%v err=%v", changed, err)
	}
	// Late-arriving delivered must not downgrade.
	changed, err = db.AdvanceMessageStatus(ch.ID, "m1", "delivered")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("delivered after read should be a no-op")
	}
	stored, _ := db.GetMessageByExternalID(ch.ID, "m1")
	if stored.Status != "read" {
		t.Errorf("status = %q, want read", stored.Status)
	}
}

func TestAdvanceMessageStatusUnknownMessage(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	changed, err := db.AdvanceMessageStatus(ch.ID, "ghost", "delivered")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unknown message should be a no-op")
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	for i, tid := range []string{"t1", "t2", "t3"} {
		c := &Conversation{ChannelID: ch.ID, ExternalThreadID: tid, LastMessageAt: int64(1000 * (i + 1))}
		if _, err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}
	convs, err := db.ListConversations(ch.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	if convs[0].ExternalThreadID != "t3" {
		t.Errorf("first = %q, want t3 (most recent)", convs[0].ExternalThreadID)
	}
}

func TestChannelHealthCounters(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)

	if err := db.RecordSyncError(ch.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordSyncError(ch.ID, "boom again"); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetChannelByAccount("acc-1")
	if got.ConsecutiveSyncErrors != 2 {
		t.Errorf("consecutive errors = %d, want 2", got.ConsecutiveSyncErrors)
	}
	if got.LastSyncError != "boom again" {
		t.Errorf("last error = %q", got.LastSyncError)
	}

	now := time.Now().UnixMilli()
	if err := db.RecordSyncSuccess(ch.ID, now); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetChannelByAccount("acc-1")
	if got.ConsecutiveSyncErrors != 0 || got.LastSyncError != "" {
		t.Errorf("success should reset error state, got %+v", got)
	}
	if got.LastSyncAt != now {
		t.Errorf("last_sync_at = %d, want %d", got.LastSyncAt, now)
	}
}

func TestMessageWithoutExternalIDAlwaysInserts(t *testing.T) {
	db := testDB(t)
	ch := testChannel(t, db)
	conv := &Conversation{ChannelID: ch.ID, ExternalThreadID: "t1"}
	if _, err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		m := &Message{ChannelID: ch.ID, ConversationID: conv.ID, Direction: "outbound", Content: "local", IsLocalOnly: true, SentAt: int64(1000 + i)}
		created, err := db.UpsertMessage(m)
		if err != nil {
			t.Fatal(err)
		}
		if !created {
			t.Error("local-only message should insert")
		}
	}
	msgs, _ := db.ListMessages(conv.ID, 0, 10)
	if len(msgs) != 2 {
		t.Errorf("got %d local messages, want 2", len(msgs))
	}
}
