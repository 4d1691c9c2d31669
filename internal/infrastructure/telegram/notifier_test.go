package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPublishDigest(t *testing.T) {
	t.Parallel()

	var gotPath, gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token123", "chat456")
	n.baseURL = srv.URL

	if err := n.PublishDigest(context.Background(), "[酒水群] Sell 飞天茅台 @ 2810"); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotChatID != "chat456" {
		t.Errorf("unexpected chat_id %q", gotChatID)
	}
	if !strings.Contains(gotText, "飞天茅台") {
		t.Errorf("digest text not forwarded, got %q", gotText)
	}
}

func TestPublishDigestEmptySkipsCall(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := NewNotifier("token", "chat")
	n.baseURL = srv.URL

	if err := n.PublishDigest(context.Background(), ""); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}
	if called {
		t.Fatal("empty digest should not hit the API")
	}
}

func TestPublishDigestAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier("token", "chat")
	n.baseURL = srv.URL

	err := n.PublishDigest(context.Background(), "digest")
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error should carry API body, got %v", err)
	}
}

func TestPublishDigestMisconfigured(t *testing.T) {
	t.Parallel()

	n := NewNotifier("", "")
	if err := n.PublishDigest(context.Background(), "digest"); err == nil {
		t.Fatal("expected misconfiguration error")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("line one\n", 600)
	got := truncate(long, maxMessageLen)
	if len(got) > maxMessageLen {
		t.Fatalf("truncated digest still %d bytes", len(got))
	}
	if strings.HasSuffix(got, "line o") {
		t.Fatal("truncation should cut at a line boundary")
	}

	cjk := strings.Repeat("茅", 2000)
	got = truncate(cjk, maxMessageLen)
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte character")
	}
}
