package chat

import (
	"testing"

	"github.com/arcadely/chatd/internal/wire"
)

func TestApplyAckOnlyWhilePending(t *testing.T) {
	list := []Message{{Sender: SenderSelf, Text: "hi", LocalID: "l1", Status: StatusPending}}

	out, ok := applyAck(list, "l1", true, "s1", 100)
	if !ok {
		t.Fatal("ack on pending message should apply")
	}
	if out[0].Status != StatusSent || out[0].ServerID != "s1" || out[0].CreatedAt != 100 {
		t.Errorf("acked message = %+v", out[0])
	}
	if out[0].LocalID != "" {
		t.Error("LocalID should be cleared once ServerID is assigned")
	}

	// A late timeout after the ack changes nothing.
	out2, ok := markFailed(out, "l1")
	if ok {
		t.Error("markFailed after ack should be a no-op")
	}
	if out2[0].Status != StatusSent {
		t.Errorf("status = %q, want sent", out2[0].Status)
	}
}

func TestLateAckAfterTimeoutIgnored(t *testing.T) {
	list := []Message{{Sender: SenderSelf, Text: "hi", LocalID: "l1", Status: StatusPending}}

	failed, ok := markFailed(list, "l1")
	if !ok {
		t.Fatal("timeout on pending message should apply")
	}

	out, ok := applyAck(failed, "l1", true, "s1", 100)
	if ok {
		t.Error("ack after timeout should be a no-op")
	}
	if out[0].Status != StatusFailed || out[0].ServerID != "" {
		t.Errorf("message = %+v, want failed without server id", out[0])
	}
}

func TestMergeInboundServerIDDedup(t *testing.T) {
	list := []Message{{Sender: SenderPeer, Text: "hello", ServerID: "s1", CreatedAt: 100, Status: StatusSent}}

	// The same broadcast replayed after a reconnect applies once.
	out, merged := mergeInbound(list, Message{Sender: SenderPeer, Text: "hello", ServerID: "s1", CreatedAt: 100, Status: StatusSent})
	if !merged {
		t.Error("replayed broadcast should merge, not append")
	}
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
}

func TestMergeInboundEchoHeuristic(t *testing.T) {
	// Optimistic local send, ack not yet landed.
	list := []Message{{Sender: SenderSelf, Text: "hi", LocalID: "l1", Status: StatusPending}}

	out, merged := mergeInbound(list, Message{Sender: SenderSelf, Text: "hi", ServerID: "s1", CreatedAt: 100, Status: StatusSent})
	if !merged {
		t.Fatal("server echo of an unacked local message should merge")
	}
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].ServerID != "s1" || out[0].Status != StatusSent || out[0].LocalID != "" {
		t.Errorf("merged echo = %+v", out[0])
	}
}

func TestMergeInboundAppendsNewMessage(t *testing.T) {
	list := []Message{{Sender: SenderPeer, Text: "a", ServerID: "s1", CreatedAt: 100}}

	out, merged := mergeInbound(list, Message{Sender: SenderPeer, Text: "b", ServerID: "s2", CreatedAt: 200, Status: StatusSent})
	if merged {
		t.Error("distinct message should append")
	}
	if len(out) != 2 || out[1].ServerID != "s2" {
		t.Errorf("list = %+v", out)
	}
}

func TestVisibleCutoffBoundaryExclusive(t *testing.T) {
	list := []Message{
		{Sender: SenderPeer, ServerID: "s1", CreatedAt: 99},
		{Sender: SenderPeer, ServerID: "s2", CreatedAt: 100},
		{Sender: SenderPeer, ServerID: "s3", CreatedAt: 101},
		{Sender: SenderSelf, LocalID: "l1", Status: StatusPending}, // no CreatedAt yet
	}

	out := visible(list, 100)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(out), out)
	}
	if out[0].ServerID != "s3" {
		t.Errorf("message at the cutoff must be hidden; got %+v", out[0])
	}
	if out[1].LocalID != "l1" {
		t.Error("pending local messages are always visible")
	}
}

func TestApplyEditByServerID(t *testing.T) {
	list := []Message{{Sender: SenderSelf, Text: "old", ServerID: "s1", CreatedAt: 100, Status: StatusSent}}

	out, ok := applyEdit(list, "s1", "new", 200)
	if !ok {
		t.Fatal("edit should apply")
	}
	if out[0].Text != "new" || !out[0].Edited || out[0].EditedAt != 200 {
		t.Errorf("edited = %+v", out[0])
	}

	if _, ok := applyEdit(list, "missing", "x", 200); ok {
		t.Error("edit of unknown server id should be a no-op")
	}
}

func TestNewestInboundAt(t *testing.T) {
	list := []Message{
		{Sender: SenderSelf, CreatedAt: 500},
		{Sender: SenderPeer, CreatedAt: 100},
		{Sender: SenderPeer, CreatedAt: 300},
	}
	if got := newestInboundAt(list); got != 300 {
		t.Errorf("newestInboundAt = %d, want 300 (self-sent messages don't count)", got)
	}
	if got := newestInboundAt(nil); got != 0 {
		t.Errorf("newestInboundAt(nil) = %d, want 0", got)
	}
}

func TestFromWireDefaultsTypeToText(t *testing.T) {
	m := fromWire(&wire.ChatMessage{FromUsername: "bob", Message: "hi", ServerID: "s1", CreatedAt: 1}, "alice")
	if m.Sender != SenderPeer || m.Type != wire.TypeText || m.Status != StatusSent {
		t.Errorf("fromWire = %+v", m)
	}

	self := fromWire(&wire.ChatMessage{FromUsername: "alice", Message: "hi"}, "alice")
	if self.Sender != SenderSelf {
		t.Errorf("own history message should be self; got %q", self.Sender)
	}
}
