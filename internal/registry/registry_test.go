package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/proxy"
	"github.com/hondutalent/bridge/internal/store"
)

type sentCall struct {
	ChatID string
	Body   string
}

type fakeClient struct {
	mu         sync.Mutex
	sent       []sentCall
	sendErr    error
	destroyErr error
	destroyed  bool
}

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) SendText(_ context.Context, chatID, body string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, sentCall{ChatID: chatID, Body: body})
	return &Receipt{MessageID: "srv-1", Timestamp: time.Unix(1700000000, 0)}, nil
}

func (c *fakeClient) Destroy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return c.destroyErr
}

type fakeFactory struct {
	mu      sync.Mutex
	created int
	err     error
	clients map[string]*fakeClient
	events  map[string]func(Event)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		clients: make(map[string]*fakeClient),
		events:  make(map[string]func(Event)),
	}
}

func (f *fakeFactory) NewClient(_ context.Context, sessionID, _ string, _ *proxy.Descriptor, events func(Event)) (TransportClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{}
	f.clients[sessionID] = c
	f.events[sessionID] = events
	return c, nil
}

func (f *fakeFactory) fire(sessionID string, evt Event) {
	f.mu.Lock()
	events := f.events[sessionID]
	f.mu.Unlock()
	events(evt)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRegistry(t *testing.T, factory ClientFactory, proxies []proxy.Descriptor) (*Registry, *bus.Bus) {
	t.Helper()
	b := bus.New()
	normalize := func(s string) (string, error) { return s, nil }
	return New(factory, proxies, testDB(t), b, normalize, zap.NewNop()), b
}

func makeReady(t *testing.T, f *fakeFactory, sessionID string) {
	t.Helper()
	f.fire(sessionID, Event{Kind: EventQR, QRCode: "pairing-code"})
	f.fire(sessionID, Event{Kind: EventAuthenticated})
	f.fire(sessionID, Event{Kind: EventReady})
}

func TestInitializeIdempotent(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)

	snap, err := r.Initialize(context.Background(), "henmir", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StateInitializing {
		t.Errorf("status = %s, want initializing", snap.Status)
	}
	if snap.TenantID != DefaultTenant {
		t.Errorf("tenant = %q, want default", snap.TenantID)
	}

	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	if f.created != 1 {
		t.Errorf("factory called %d times, want 1", f.created)
	}
}

func TestInitializeFactoryErrorLeavesNoSession(t *testing.T) {
	f := newFakeFactory()
	f.err = errors.New("store corrupt")
	r, _ := testRegistry(t, f, nil)

	if _, err := r.Initialize(context.Background(), "broken", ""); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.Status("broken"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("status err = %v, want ErrSessionNotFound", err)
	}
}

func TestInitializeAssignsProxy(t *testing.T) {
	f := newFakeFactory()
	proxies := []proxy.Descriptor{{Server: "http://p1:8080"}, {Server: "http://p2:8080"}}
	r, _ := testRegistry(t, f, proxies)

	snap, err := r.Initialize(context.Background(), "henmir", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Proxy != "http://p1:8080" && snap.Proxy != "http://p2:8080" {
		t.Errorf("proxy = %q, want one from the list", snap.Proxy)
	}

	again, _ := r.Status("henmir")
	if again.Proxy != snap.Proxy {
		t.Errorf("proxy changed: %q vs %q", again.Proxy, snap.Proxy)
	}
}

func TestLifecycleToReady(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}

	f.fire("henmir", Event{Kind: EventQR, QRCode: "pairing-code"})
	snap, _ := r.Status("henmir")
	if snap.Status != StateQRReady {
		t.Fatalf("status = %s, want qr_ready", snap.Status)
	}
	if !strings.HasPrefix(snap.QRCode, "data:image/png;base64,") {
		t.Errorf("qr code not rendered as data URL: %.40q", snap.QRCode)
	}

	f.fire("henmir", Event{Kind: EventAuthenticated})
	snap, _ = r.Status("henmir")
	if snap.Status != StateAuthenticated || snap.QRCode != "" {
		t.Fatalf("after auth: status=%s qr=%q", snap.Status, snap.QRCode)
	}

	f.fire("henmir", Event{Kind: EventReady})
	snap, _ = r.Status("henmir")
	if !snap.Ready {
		t.Fatalf("status = %s, want ready", snap.Status)
	}
	if id, ok := r.ReadySession(); !ok || id != "henmir" {
		t.Errorf("ReadySession = %q, %v", id, ok)
	}
}

func TestSendTextRequiresReadySession(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)

	if _, err := r.SendText(context.Background(), "ghost", "c@s", "hola"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}

	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SendText(context.Background(), "henmir", "c@s", "hola"); !errors.Is(err, ErrSessionNotReady) {
		t.Errorf("initializing session err = %v, want ErrSessionNotReady", err)
	}
}

func TestSendTextRecordsMessage(t *testing.T) {
	f := newFakeFactory()
	b := bus.New()
	db := testDB(t)
	normalize := func(string) (string, error) { return "50499991234@s.whatsapp.net", nil }
	r := New(f, nil, db, b, normalize, zap.NewNop())

	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	makeReady(t, f, "henmir")

	receipt, err := r.SendText(context.Background(), "henmir", "+504 9999-1234", "Buenas")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.MessageID != "srv-1" || receipt.ChatID != "50499991234@s.whatsapp.net" {
		t.Errorf("receipt = %+v", receipt)
	}

	// The client must see the canonical address, not the raw input.
	client := f.clients["henmir"]
	if len(client.sent) != 1 || client.sent[0].ChatID != "50499991234@s.whatsapp.net" {
		t.Fatalf("sent = %+v", client.sent)
	}

	msgs, err := db.ListMessages("50499991234@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].FromMe || msgs[0].Body != "Buenas" {
		t.Fatalf("recorded messages = %+v", msgs)
	}
	conv, _ := db.Conversation("50499991234@s.whatsapp.net")
	if conv == nil || conv.LastMessageTimestamp != 1700000000 {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestSendTextFailurePropagates(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	makeReady(t, f, "henmir")
	f.clients["henmir"].sendErr = errors.New("socket closed")

	if _, err := r.SendText(context.Background(), "henmir", "c@s", "hola"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestCloseRemovesSessionEvenWhenDestroyFails(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	f.clients["henmir"].destroyErr = errors.New("already closed")

	if err := r.Close(context.Background(), "henmir"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Status("henmir"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("status after close = %v, want ErrSessionNotFound", err)
	}
	if !f.clients["henmir"].destroyed {
		t.Error("client was not destroyed")
	}
}

func TestCloseUnknownSession(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if err := r.Close(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	makeReady(t, f, "henmir")

	f.fire("henmir", Event{Kind: EventDisconnected, Reason: "stream error"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := r.Status("henmir"); errors.Is(err, ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !f.clients["henmir"].destroyed {
		t.Error("client not destroyed on disconnect cleanup")
	}
}

func TestMessageEventReachesBus(t *testing.T) {
	f := newFakeFactory()
	r, b := testRegistry(t, f, nil)

	ch, unsub := b.Subscribe(16, "wa.")
	defer unsub()

	if _, err := r.Initialize(context.Background(), "henmir", "acme"); err != nil {
		t.Fatal(err)
	}
	makeReady(t, f, "henmir")

	f.fire("henmir", Event{Kind: EventMessage, Message: &InboundMessage{
		ChatID: "50499991234@s.whatsapp.net", Body: "Hola", Timestamp: 1700000000,
	}})

	select {
	case evt := <-ch:
		if evt.Kind != "wa.message" || evt.SessionID != "henmir" || evt.TenantID != "acme" {
			t.Fatalf("event = %+v", evt)
		}
		msg, ok := evt.Payload.(*InboundMessage)
		if !ok || msg.Body != "Hola" {
			t.Fatalf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no wa.message event published")
	}
}

func TestMessageBeforeReadyIsDropped(t *testing.T) {
	f := newFakeFactory()
	r, b := testRegistry(t, f, nil)

	ch, unsub := b.Subscribe(16, "wa.")
	defer unsub()

	if _, err := r.Initialize(context.Background(), "henmir", ""); err != nil {
		t.Fatal(err)
	}
	f.fire("henmir", Event{Kind: EventMessage, Message: &InboundMessage{Body: "early"}})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v for a non-ready session", evt)
	case <-time.After(100 * time.Millisecond):
	}
	snap, _ := r.Status("henmir")
	if snap.Status != StateInitializing {
		t.Errorf("status = %s, want initializing untouched", snap.Status)
	}
}

func TestRestoreScansSessionDirs(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)

	dir := t.TempDir()
	for _, p := range []string{"default/henmir", "acme/backup"} {
		if err := os.MkdirAll(filepath.Join(dir, p), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	n := r.Restore(context.Background(), dir)
	if n != 2 {
		t.Fatalf("restored %d sessions, want 2", n)
	}
	if _, err := r.Status("henmir"); err != nil {
		t.Errorf("henmir not restored: %v", err)
	}
	if snap, err := r.Status("backup"); err != nil || snap.TenantID != "acme" {
		t.Errorf("backup snapshot = %+v, err %v", snap, err)
	}
}

func TestRestoreMissingDirIsNoop(t *testing.T) {
	f := newFakeFactory()
	r, _ := testRegistry(t, f, nil)
	if n := r.Restore(context.Background(), filepath.Join(t.TempDir(), "nope")); n != 0 {
		t.Errorf("restored %d from missing dir, want 0", n)
	}
}
