package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/risa-org/chatlink/handshake"
	"github.com/risa-org/chatlink/message"
	"github.com/risa-org/chatlink/server"
	"github.com/risa-org/chatlink/session"
	"github.com/risa-org/chatlink/store/memory"
	"github.com/risa-org/chatlink/transport/tcp"
)

func newServer() *server.Server {
	auth := handshake.NewHandler(session.NewTokenIssuer([]byte("client-test-secret-32-bytes-long")), "s3cret")
	return server.New(memory.New(), auth)
}

// dial serves one end of a pipe with s and returns the other as an adapter.
func dial(s *server.Server) *tcp.Adapter {
	clientConn, serverConn := net.Pipe()
	go s.Serve(tcp.New(serverConn))
	return tcp.New(clientConn)
}

func connect(t *testing.T, s *server.Server, author string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, dial(s), author, "s3cret", "room")
	if err != nil {
		t.Fatalf("connect as %s failed: %v", author, err)
	}
	t.Cleanup(c.Close)
	return c
}

// recorder keeps every callback it receives.
type recorder struct {
	BaseHandler
	delivered []message.Delivered
	metas     []message.FileMeta
	bytes     []message.FileBytes
	deleted   []message.DeletedAck
	failures  []message.Failure
	ids       []message.RequestID
}

func (r *recorder) OnDelivered(id message.RequestID, d message.Delivered) {
	r.ids = append(r.ids, id)
	r.delivered = append(r.delivered, d)
}

func (r *recorder) OnFileMeta(id message.RequestID, m message.FileMeta) {
	r.ids = append(r.ids, id)
	r.metas = append(r.metas, m)
}

func (r *recorder) OnFileBytes(id message.RequestID, b message.FileBytes) {
	r.ids = append(r.ids, id)
	r.bytes = append(r.bytes, b)
}

func (r *recorder) OnDeleted(id message.RequestID, a message.DeletedAck) {
	r.ids = append(r.ids, id)
	r.deleted = append(r.deleted, a)
}

func (r *recorder) OnFailure(id message.RequestID, f message.Failure) {
	r.ids = append(r.ids, id)
	r.failures = append(r.failures, f)
}

// settle waits for outstanding dispatches and polls their results.
func settle(c *Client, h Handler) int {
	c.Wait()
	return c.Poll(h)
}

func TestSendTextDelivered(t *testing.T) {
	c := connect(t, newServer(), "alice")

	id, err := c.SendText("hello", nil)
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	rec := &recorder{}
	if n := settle(c, rec); n != 1 {
		t.Fatalf("expected 1 result, got %d", n)
	}
	if len(rec.delivered) != 1 || rec.ids[0] != id {
		t.Errorf("expected Delivered for %s, got %+v", id, rec)
	}
}

func TestPaddedAuthorCanSend(t *testing.T) {
	c := connect(t, newServer(), " alice ")
	if c.Author() != "alice" {
		t.Errorf("expected trimmed author, got %q", c.Author())
	}

	c.SendText("hello", nil)
	c.Fetch(99)
	rec := &recorder{}
	settle(c, rec)

	if len(rec.delivered) != 1 {
		t.Fatalf("expected delivery for padded author, got failures %+v", rec.failures)
	}
	// the fetch fails for the index, not for the credential
	if len(rec.failures) != 1 || rec.failures[0].Kind != message.KindRemote ||
		!strings.Contains(rec.failures[0].Reason, "not_found") {
		t.Errorf("expected not_found for the fetch, got %+v", rec.failures)
	}
}

func TestEmptyTextRejectedSynchronously(t *testing.T) {
	c := connect(t, newServer(), "alice")

	_, err := c.SendText("  ", nil)
	if !errors.Is(err, message.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := settle(c, nil); n != 0 {
		t.Errorf("expected nothing dispatched, got %d results", n)
	}
}

func TestUploadRegistersAndFetchCaches(t *testing.T) {
	c := connect(t, newServer(), "alice")

	path := filepath.Join(t.TempDir(), "photo.png")
	content := []byte{0x89, 'P', 'N', 'G'}
	os.WriteFile(path, content, 0o600)

	if _, err := c.Upload(path, nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	rec := &recorder{}
	settle(c, rec)
	if len(rec.metas) != 1 {
		t.Fatalf("expected one FileMeta, got %+v", rec)
	}
	meta := rec.metas[0]

	entry, ok := c.Registry().Resolve(meta.Index)
	if !ok || entry.FileName != "photo.png" || entry.Size == nil || *entry.Size != uint64(len(content)) {
		t.Fatalf("registry not updated from FileMeta: %+v", entry)
	}

	if _, err := c.FetchByName("photo.png"); err != nil {
		t.Fatalf("FetchByName failed: %v", err)
	}
	settle(c, rec)

	got, ok := c.File(meta.Index)
	if !ok || !bytes.Equal(got, content) {
		t.Errorf("expected cached content %v, got %v", content, got)
	}
}

func TestFetchByNameUnknown(t *testing.T) {
	c := connect(t, newServer(), "alice")

	if _, err := c.FetchByName("nothing.txt"); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("expected ErrUnknownFile, got %v", err)
	}
}

func TestUploadMissingFileIsIOError(t *testing.T) {
	c := connect(t, newServer(), "alice")

	_, err := c.Upload(filepath.Join(t.TempDir(), "missing"), nil)
	if message.KindOf(err) != message.KindIO {
		t.Errorf("expected io error, got %v", err)
	}
}

func TestDeleteOwnMessage(t *testing.T) {
	c := connect(t, newServer(), "alice")

	c.SendText("typo", nil)
	rec := &recorder{}
	settle(c, rec)
	id := rec.delivered[0].MessageID

	c.Delete(id)
	settle(c, rec)
	if len(rec.deleted) != 1 || rec.deleted[0].MessageID != id {
		t.Errorf("expected DeletedAck{%d}, got %+v", id, rec.deleted)
	}
}

func TestDeleteOthersMessageFailsRemote(t *testing.T) {
	s := newServer()
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")

	alice.SendText("mine", nil)
	rec := &recorder{}
	settle(alice, rec)

	bob.Delete(rec.delivered[0].MessageID)
	bobRec := &recorder{}
	settle(bob, bobRec)

	if len(bobRec.failures) != 1 || bobRec.failures[0].Kind != message.KindRemote {
		t.Errorf("expected one remote failure, got %+v", bobRec.failures)
	}
}

func TestFetchUnknownIndexFailsRemote(t *testing.T) {
	c := connect(t, newServer(), "alice")

	c.Fetch(12345)
	rec := &recorder{}
	settle(c, rec)

	if len(rec.failures) != 1 {
		t.Fatalf("expected one failure, got %+v", rec)
	}
	f := rec.failures[0]
	if f.Kind != message.KindRemote || f.Request == nil || f.Request.Index != 12345 {
		t.Errorf("unexpected failure %+v", f)
	}
}

func TestConnectWrongSecret(t *testing.T) {
	_, err := Connect(context.Background(), dial(newServer()), "alice", "wrong", "room")
	if !errors.Is(err, handshake.ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestClosedClientRejectsRequests(t *testing.T) {
	c := connect(t, newServer(), "alice")
	c.Close()

	if _, err := c.SendText("hi", nil); !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := c.Fetch(1); !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestReconnectResetsRegistry(t *testing.T) {
	s := newServer()
	c := connect(t, s, "alice")

	path := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(path, []byte("a"), 0o600)
	c.Upload(path, nil)
	settle(c, nil)
	if c.Registry().Len() != 1 {
		t.Fatalf("expected one registered file, got %d", c.Registry().Len())
	}

	if err := c.Reconnect(context.Background(), dial(s), "s3cret"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if c.Registry().Len() != 0 {
		t.Errorf("expected registry cleared on reconnect, got %d", c.Registry().Len())
	}

	// the new session works with the new credential
	c.SendText("back", nil)
	rec := &recorder{}
	settle(c, rec)
	if len(rec.delivered) != 1 {
		t.Errorf("expected delivery after reconnect, got %+v", rec)
	}
}

func TestResultsFromReplacedSessionNotRegistered(t *testing.T) {
	s1, s2 := newServer(), newServer()
	alice := connect(t, s1, "alice")
	bob := connect(t, s2, "bob")

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	os.WriteFile(oldPath, []byte("alice's file"), 0o600)
	secretPath := filepath.Join(dir, "secret.bin")
	os.WriteFile(secretPath, []byte("someone else's file"), 0o600)

	alice.Upload(oldPath, nil)
	settle(alice, nil)
	// a fetch and a second upload finish on s1 but are not polled yet
	alice.Fetch(1)
	alice.Upload(oldPath, nil)
	alice.Wait()

	bob.Upload(secretPath, nil)
	bobRec := &recorder{}
	settle(bob, bobRec)
	if len(bobRec.metas) != 1 || bobRec.metas[0].Index != 1 {
		t.Fatalf("expected bob's file at index 1 on the new server, got %+v", bobRec)
	}

	if err := alice.Reconnect(context.Background(), dial(s2), "s3cret"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	rec := &recorder{}
	if n := alice.Poll(rec); n != 2 {
		t.Fatalf("expected both old-session results, got %d", n)
	}
	if len(rec.metas) != 1 || len(rec.bytes) != 1 {
		t.Errorf("old-session results should still reach the handler, got %+v", rec)
	}
	if alice.Registry().Len() != 0 {
		t.Errorf("old-session FileMeta registered: %+v", alice.Registry().Entries())
	}
	if _, ok := alice.File(1); ok {
		t.Error("old-session FileBytes cached under an index the new session reuses")
	}
	if _, err := alice.FetchByName("old.txt"); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("expected ErrUnknownFile for an old-session name, got %v", err)
	}

	// results of the new session are applied as usual
	alice.Fetch(1)
	settle(alice, nil)
	if got, ok := alice.File(1); !ok || string(got) != "someone else's file" {
		t.Errorf("expected new-session fetch cached, got %q", got)
	}
}

func TestPollWithNilHandlerStillRegisters(t *testing.T) {
	c := connect(t, newServer(), "alice")

	path := filepath.Join(t.TempDir(), "b.txt")
	os.WriteFile(path, []byte("b"), 0o600)
	c.Upload(path, nil)
	if n := settle(c, nil); n != 1 {
		t.Fatalf("expected 1 result, got %d", n)
	}
	if len(c.Registry().Find("b.txt")) != 1 {
		t.Error("expected b.txt registered")
	}
}
