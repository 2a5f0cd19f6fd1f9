package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", "debug")

	logger = WithOperation(logger, "sync.account")
	logger = WithProvider(logger, "google")
	logger = WithAccount(logger, "acc-1")
	logger.Debug("syncing")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}

	want := map[string]string{
		KeyOperation: "sync.account",
		KeyProvider:  "google",
		KeyAccountID: "acc-1",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("oauth.callback"), KeyOperation, "oauth.callback"},
		{"provider", Provider("outlook"), KeyProvider, "outlook"},
		{"account", AccountID("acc-9"), KeyAccountID, "acc-9"},
		{"tool", Tool("mail_sync_user"), KeyTool, "mail_sync_user"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("Err() = %v, want error=boom", attr)
	}

	var buf bytes.Buffer
	logger := New(&buf, "text", "info")
	logger.Info("done", Err(nil))
	if strings.Contains(buf.String(), KeyError+"=") {
		t.Errorf("nil error should be omitted, got %q", buf.String())
	}
}

func TestAnonymizeEmail(t *testing.T) {
	if got := AnonymizeEmail(""); got != "" {
		t.Errorf("AnonymizeEmail(\"\") = %q, want empty", got)
	}

	a := AnonymizeEmail("Alice@Example.com")
	b := AnonymizeEmail("alice@example.com")
	if a != b {
		t.Errorf("hash should be case-insensitive: %q != %q", a, b)
	}
	if strings.Contains(a, "alice") {
		t.Errorf("hash leaks address: %q", a)
	}
	if !strings.HasPrefix(a, "user:") || len(a) != len("user:")+16 {
		t.Errorf("unexpected hash format %q", a)
	}
	if UserHash("alice@example.com").Value.String() != b {
		t.Error("UserHash should use AnonymizeEmail")
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("SanitizeToken(\"\") = %q", got)
	}
	got := SanitizeToken("ya29.secret-token")
	if strings.Contains(got, "ya29") {
		t.Errorf("SanitizeToken leaks content: %q", got)
	}
	if got != "[token:17 chars]" {
		t.Errorf("SanitizeToken() = %q, want [token:17 chars]", got)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"bob@outlook.com": "outlook.com",
		"invalid":         "",
		"":                "",
		"a@b@c":           "",
	}
	for in, want := range tests {
		if got := ExtractDomain(in); got != want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", in, got, want)
		}
	}
	if Domain("bob@outlook.com").Value.String() != "outlook.com" {
		t.Error("Domain attr mismatch")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
