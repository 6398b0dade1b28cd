package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestResolveListenAddr(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envAddr  string
		envPort  string
		expected string
	}{
		{"default", "", "", "", ":8000"},
		{"flag wins", ":9000", ":9100", "9200", ":9000"},
		{"env addr over port", "", ":9100", "9200", ":9100"},
		{"port convention", "", "", "9200", ":9200"},
		{"whitespace ignored", "  ", " ", " 9200 ", ":9200"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveListenAddr(tc.flag, tc.envAddr, tc.envPort); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestModeValue(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := modeValue("PRODUCTION", ""); got != "production" {
		t.Fatalf("expected lowercased flag, got %q", got)
	}
	if got := modeValue("", "Production"); got != "production" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}

func TestResolveVaultDriver(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		env      string
		flagDSN  string
		envDSN   string
		expected string
	}{
		{"default none", "", "", "", "", "none"},
		{"explicit file", "file", "", "", "", "file"},
		{"env fallback", "", "postgres", "", "", "postgres"},
		{"dsn implies postgres", "", "", "postgres://localhost/vault", "", "postgres"},
		{"env dsn implies postgres", "", "", "", "postgres://localhost/vault", "postgres"},
		{"explicit wins over dsn", "file", "", "postgres://localhost/vault", "", "file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveVaultDriver(tc.flag, tc.env, tc.flagDSN, tc.envDSN); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestResolveSealer(t *testing.T) {
	if sealer, err := resolveSealer(""); err != nil || sealer != nil {
		t.Fatalf("empty key must disable sealing, got %v %v", sealer, err)
	}
	if _, err := resolveSealer("not-hex"); err == nil {
		t.Fatal("expected error for malformed key")
	}
	key := strings.Repeat("ab", 32)
	if sealer, err := resolveSealer(key); err != nil || sealer == nil {
		t.Fatalf("expected sealer for valid key, got %v %v", sealer, err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected first non-blank value, got %q", got)
	}
	if got := firstNonEmpty("", "  "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, b ,,c ")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected result %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveBool(t *testing.T) {
	if !resolveBool(true, "INSTABRIDGE_TEST_UNSET") {
		t.Fatal("flag true must win")
	}
	t.Setenv("INSTABRIDGE_TEST_BOOL", "true")
	if !resolveBool(false, "INSTABRIDGE_TEST_BOOL") {
		t.Fatal("env true must apply")
	}
	t.Setenv("INSTABRIDGE_TEST_BOOL", "not-a-bool")
	if resolveBool(false, "INSTABRIDGE_TEST_BOOL") {
		t.Fatal("malformed env must fall back to false")
	}
}
