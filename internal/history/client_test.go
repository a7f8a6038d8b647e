package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, func() string { return "test-token" })
	return c, srv
}

func TestConversation(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/bob" {
			t.Errorf("path = %q, want /conversations/bob", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		_, _ = w.Write([]byte(`[
			{"fromUsername":"bob","message":"hi","serverId":"s1","createdAt":1000},
			{"fromUsername":"alice","toUsername":"bob","message":"hey","serverId":"s2","createdAt":2000}
		]`))
	})
	defer srv.Close()

	msgs, err := c.Conversation(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ServerID != "s1" || msgs[1].CreatedAt != 2000 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestConversationAuthExpired(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := c.Conversation(context.Background(), "bob")
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("error = %v, want ErrAuthExpired", err)
	}
}

func TestConversationServerError(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := c.Conversation(context.Background(), "bob")
	if err == nil {
		t.Fatal("expected error for 500")
	}
	// A plain server error must be distinguishable from auth expiry.
	if errors.Is(err, ErrAuthExpired) {
		t.Error("500 must not map to ErrAuthExpired")
	}
}

func TestContacts(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			t.Errorf("path = %q, want /users", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[
			{"username":"bob","status":"online","lastSeenAt":1000},
			{"username":"carol","status":"offline"}
		]`))
	})
	defer srv.Close()

	contacts, err := c.Contacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}
	if contacts[0].Username != "bob" || contacts[0].LastSeenAt != 1000 {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestUploadMedia(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media" || r.Method != http.MethodPost {
			t.Errorf("got %s %s, want POST /media", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "cat.png" {
			t.Errorf("filename = %q, want cat.png", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"mediaUrl":"https://cdn.example.com/cat.png","mimeType":"image/png","fileName":"cat.png"}`))
	})
	defer srv.Close()

	info, err := c.UploadMedia(context.Background(), "cat.png", "image/png", strings.NewReader("pngbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if info.MediaURL != "https://cdn.example.com/cat.png" {
		t.Errorf("mediaUrl = %q", info.MediaURL)
	}
}

func TestUploadMediaTooLarge(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})
	defer srv.Close()

	_, err := c.UploadMedia(context.Background(), "big.mp4", "video/mp4", strings.NewReader("x"))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}

func TestVerifyChatKey(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-key/verify" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"valid":true}`))
	})
	defer srv.Close()

	ok, err := c.VerifyChatKey(context.Background(), "sesame")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("VerifyChatKey = false, want true")
	}
}
