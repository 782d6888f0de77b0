package store

import (
	"path/filepath"
	"testing"
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

func TestArchiveMessageCreatesConversation(t *testing.T) {
	db := testDB(t)

	conv, err := db.ArchiveMessage(&Message{
		ChatID:    "50499991234@s.whatsapp.net",
		Sender:    "50499991234@s.whatsapp.net",
		Body:      "Hola",
		Timestamp: 1700000000,
		FromMe:    false,
	}, "Maria")
	if err != nil {
		t.Fatal(err)
	}

	// A conversation born from an inbound message opens in the
	// affiliation-confirm state, not new_visitor.
	if conv.Status != StatusAwaitingAffiliate {
		t.Errorf("status = %q, want %q", conv.Status, StatusAwaitingAffiliate)
	}
	if conv.ContactName != "Maria" {
		t.Errorf("contact_name = %q, want Maria", conv.ContactName)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread_count = %d, want 1", conv.UnreadCount)
	}
	if !conv.BotActive {
		t.Error("new conversations must start with the bot active")
	}

	msgs, err := db.ListMessages(conv.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "Hola" {
		t.Fatalf("messages = %+v, want one 'Hola'", msgs)
	}
}

func TestArchiveMessageOutboundFirstStaysNewVisitor(t *testing.T) {
	db := testDB(t)

	conv, err := db.ArchiveMessage(&Message{
		ChatID:    "50488880000@s.whatsapp.net",
		Sender:    "me",
		Body:      "Buenas tardes",
		Timestamp: 1700000000,
		FromMe:    true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != StatusNewVisitor {
		t.Errorf("status = %q, want %q", conv.Status, StatusNewVisitor)
	}
	if conv.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", conv.UnreadCount)
	}
}

func TestArchiveMessageUnreadCounting(t *testing.T) {
	db := testDB(t)
	chat := "50477770000@s.whatsapp.net"

	for i := int64(0); i < 3; i++ {
		if _, err := db.ArchiveMessage(&Message{
			ChatID: chat, Sender: chat, Body: "msg", Timestamp: 1700000000 + i,
		}, "Juan"); err != nil {
			t.Fatal(err)
		}
	}
	conv, err := db.ArchiveMessage(&Message{
		ChatID: chat, Sender: "me", Body: "reply", Timestamp: 1700000010, FromMe: true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != 3 {
		t.Errorf("unread_count = %d, want 3 (outbound must not increment)", conv.UnreadCount)
	}
	if conv.ContactName != "Juan" {
		t.Errorf("empty contact name overwrote %q", conv.ContactName)
	}

	if err := db.MarkConversationRead(chat); err != nil {
		t.Fatal(err)
	}
	conv, _ = db.Conversation(chat)
	if conv.UnreadCount != 0 {
		t.Errorf("unread_count after read = %d, want 0", conv.UnreadCount)
	}
}

func TestArchiveMessageEmptyBodyStillUpserts(t *testing.T) {
	db := testDB(t)
	chat := "50466660000@s.whatsapp.net"

	conv, err := db.ArchiveMessage(&Message{
		ChatID: chat, Sender: chat, Body: "", Timestamp: 1700000000,
	}, "Pedro")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("conversation not created")
	}
	msgs, _ := db.ListMessages(chat)
	if len(msgs) != 0 {
		t.Errorf("empty body stored %d message rows, want 0", len(msgs))
	}
}

func TestConversationAbsentReturnsNilNil(t *testing.T) {
	db := testDB(t)
	conv, err := db.Conversation("missing@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if conv != nil {
		t.Errorf("conv = %+v, want nil", conv)
	}
}

func TestMarkIdentityValidated(t *testing.T) {
	db := testDB(t)
	chat := "50455550000@s.whatsapp.net"
	if _, err := db.ArchiveMessage(&Message{ChatID: chat, Sender: chat, Body: "hola", Timestamp: 1}, ""); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkIdentityValidated(chat, "0801-1990-12345"); err != nil {
		t.Fatal(err)
	}
	conv, _ := db.Conversation(chat)
	if conv.Status != StatusAffiliateLoggedIn {
		t.Errorf("status = %q, want %q", conv.Status, StatusAffiliateLoggedIn)
	}
	if conv.KnownIdentity != "0801-1990-12345" {
		t.Errorf("known_identity = %q", conv.KnownIdentity)
	}
	if conv.ChatType != "candidate" {
		t.Errorf("chat_type = %q, want candidate", conv.ChatType)
	}
}

func TestSaveContextKeepsExistingOnEmpty(t *testing.T) {
	db := testDB(t)
	chat := "50444440000@s.whatsapp.net"
	if _, err := db.ArchiveMessage(&Message{ChatID: chat, Sender: chat, Body: "x", Timestamp: 1}, ""); err != nil {
		t.Fatal(err)
	}

	if err := db.SaveContext(chat, "Tegucigalpa", "ventas"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveContext(chat, "", "logística"); err != nil {
		t.Fatal(err)
	}
	conv, _ := db.Conversation(chat)
	if conv.ContextCity != "Tegucigalpa" {
		t.Errorf("city = %q, want Tegucigalpa", conv.ContextCity)
	}
	if conv.ContextArea != "logística" {
		t.Errorf("area = %q, want logística", conv.ContextArea)
	}
}

func TestQueueClaimOnce(t *testing.T) {
	db := testDB(t)
	id, err := db.Enqueue(&Task{
		TaskType: TaskTypePostulation, RelatedID: 7,
		ChatID: "c@s.whatsapp.net", MessageBody: "body", ScheduledFor: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	due, err := db.DueTasks(150)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due = %+v, want the one entry", due)
	}

	claimed, err := db.MarkTaskProcessing(id)
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v, want true", claimed, err)
	}
	claimed, err = db.MarkTaskProcessing(id)
	if err != nil || claimed {
		t.Fatalf("second claim = %v, %v, want false", claimed, err)
	}

	// Processing entries are invisible to the worker query.
	due, _ = db.DueTasks(150)
	if len(due) != 0 {
		t.Errorf("claimed entry still due: %+v", due)
	}
}

func TestQueueNotDueBeforeSchedule(t *testing.T) {
	db := testDB(t)
	if _, err := db.Enqueue(&Task{ChatID: "c@s", MessageBody: "b", ScheduledFor: 1000}); err != nil {
		t.Fatal(err)
	}
	due, err := db.DueTasks(999)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("entry due before its schedule: %+v", due)
	}
}

func TestQueueDeleteIsSuccessRecord(t *testing.T) {
	db := testDB(t)
	id, _ := db.Enqueue(&Task{ChatID: "c@s", MessageBody: "b", ScheduledFor: 1})
	if _, err := db.MarkTaskProcessing(id); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTask(id); err != nil {
		t.Fatal(err)
	}
	task, err := db.Task(id)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("delivered task still present: %+v", task)
	}
}

func TestQueueFailedIsTerminal(t *testing.T) {
	db := testDB(t)
	id, _ := db.Enqueue(&Task{ChatID: "c@s", MessageBody: "b", ScheduledFor: 1})
	_, _ = db.MarkTaskProcessing(id)
	if err := db.MarkTaskFailed(id); err != nil {
		t.Fatal(err)
	}
	due, _ := db.DueTasks(1 << 40)
	if len(due) != 0 {
		t.Errorf("failed entry came back as due: %+v", due)
	}
	task, _ := db.Task(id)
	if task == nil || task.Status != TaskFailed {
		t.Errorf("task = %+v, want status failed", task)
	}
}

func TestSetManualStatusUnknownChat(t *testing.T) {
	db := testDB(t)
	err := db.SetManualStatus("nobody@s.whatsapp.net", StatusAffiliateLoggedIn, 0)
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestSeededSettingsAndTags(t *testing.T) {
	db := testDB(t)

	settings, err := db.Settings()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"model", "prompt_new_user", "prompt_affiliate"} {
		if settings[key] == "" {
			t.Errorf("seed setting %q missing", key)
		}
	}

	tag, err := db.Tag("Afiliado Verificado")
	if err != nil {
		t.Fatal(err)
	}
	if tag == nil {
		t.Fatal("seed tag missing")
	}

	// EnsureTag on an existing name must not duplicate it.
	id, err := db.EnsureTag("Afiliado Verificado", "#28a745")
	if err != nil {
		t.Fatal(err)
	}
	if id != tag.ID {
		t.Errorf("EnsureTag returned %d, want existing id %d", id, tag.ID)
	}
}

func TestTagAssignment(t *testing.T) {
	db := testDB(t)
	chat := "50433330000@s.whatsapp.net"
	if _, err := db.ArchiveMessage(&Message{ChatID: chat, Sender: chat, Body: "x", Timestamp: 1}, ""); err != nil {
		t.Fatal(err)
	}
	tagID, err := db.EnsureTag("VIP", "#ff0000")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureTagAssigned(chat, tagID); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureTagAssigned(chat, tagID); err != nil {
		t.Fatal(err)
	}
	tags, err := db.ConversationTags(chat)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "VIP" {
		t.Errorf("tags = %+v, want [VIP]", tags)
	}
}

func TestSyncAffiliates(t *testing.T) {
	db := testDB(t)
	tagID, _ := db.EnsureTag("Afiliado Verificado", "#28a745")

	err := db.SyncAffiliates([]Affiliate{
		{Identity: "0801-1985-00001", Phone: "50411110000@s.whatsapp.net", Name: "Ana"},
		{Identity: "0801-1985-00002", Phone: "50422220000@s.whatsapp.net", Name: "Luis"},
	}, tagID)
	if err != nil {
		t.Fatal(err)
	}

	conv, _ := db.Conversation("50411110000@s.whatsapp.net")
	if conv == nil || conv.Status != StatusAffiliateLoggedIn || conv.KnownIdentity != "0801-1985-00001" {
		t.Fatalf("synced conversation = %+v", conv)
	}
	tags, _ := db.ConversationTags("50422220000@s.whatsapp.net")
	if len(tags) != 1 {
		t.Errorf("tags = %+v, want one", tags)
	}
}

func TestNotifications(t *testing.T) {
	db := testDB(t)
	id, err := db.CreateNotification(&Notification{
		ChatID:      "c@s.whatsapp.net",
		ContactName: "Maria",
		Type:        "human_intervention_required",
		Summary:     "contacto molesto por falta de respuesta",
		Timestamp:   1700000000,
	})
	if err != nil {
		t.Fatal(err)
	}

	unread, err := db.UnreadNotifications(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].ID != id {
		t.Fatalf("unread = %+v", unread)
	}

	if err := db.MarkNotificationRead(id); err != nil {
		t.Fatal(err)
	}
	unread, _ = db.UnreadNotifications(10)
	if len(unread) != 0 {
		t.Errorf("notification still unread after mark: %+v", unread)
	}
}

func TestRecentMessagesOrder(t *testing.T) {
	db := testDB(t)
	chat := "50400001111@s.whatsapp.net"
	for i := int64(1); i <= 10; i++ {
		if err := db.InsertMessage(&Message{ChatID: chat, Sender: chat, Body: "m", Timestamp: i}); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := db.RecentMessages(chat, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Timestamp != 7 || msgs[3].Timestamp != 10 {
		t.Errorf("window = [%d..%d], want [7..10] oldest-first", msgs[0].Timestamp, msgs[3].Timestamp)
	}
}
