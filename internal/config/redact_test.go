package config

import (
	"strings"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{KeyAnthropicAPIKey, true},
		{KeyAdminPassword, true},
		{KeyAdminKey, true},
		{KeyFirebaseWebAPIKey, true},
		{"MY_SECRET", true},
		{"SERVICE_TOKEN", true},
		{"DB_CREDENTIALS", true},
		{"some_password", true},
		{KeyAdminEmail, false},
		{KeyAWSRegion, false},
		{KeyAppPort, false},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			if got := IsSensitiveKey(tc.key); got != tc.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	t.Run("reveals at most last 4 characters", func(t *testing.T) {
		got := Redact(KeyAnthropicAPIKey, "sk-ant-abcdef1234")
		if !strings.HasSuffix(got, "1234") {
			t.Errorf("expected suffix 1234, got %q", got)
		}
		if strings.Contains(got, "sk-ant") {
			t.Errorf("prefix must be masked, got %q", got)
		}
		if len(got) != len("sk-ant-abcdef1234") {
			t.Errorf("masked value must keep length, got %q", got)
		}
	})

	t.Run("short values fully masked", func(t *testing.T) {
		for _, v := range []string{"a", "ab", "abc", "abcd"} {
			got := Redact(KeyAdminPassword, v)
			if strings.ContainsAny(got, "abcd") {
				t.Errorf("Redact(%q) leaked characters: %q", v, got)
			}
		}
	})

	t.Run("empty value stays empty", func(t *testing.T) {
		if got := Redact(KeyAdminPassword, ""); got != "" {
			t.Errorf("expected empty, got %q", got)
		}
	})

	t.Run("non-sensitive passes through", func(t *testing.T) {
		if got := Redact(KeyAdminEmail, "admin@example.com"); got != "admin@example.com" {
			t.Errorf("expected pass-through, got %q", got)
		}
	})
}

func TestRedactedValues(t *testing.T) {
	fs := newFakeFS().withRequired()

	resolved, err := Load(WithFileSystem(fs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	redacted := resolved.RedactedValues()
	if v := redacted[KeyAnthropicAPIKey]; strings.Contains(v, "sk-ant-test") {
		t.Errorf("api key leaked: %q", v)
	}
	if v := redacted[KeyAdminPassword]; strings.Contains(v, "hunter") {
		t.Errorf("password leaked: %q", v)
	}
	if v := redacted[KeyAdminEmail]; v != "admin@example.com" {
		t.Errorf("email should not be redacted, got %q", v)
	}
}
