package apikey

import (
	"net/http/httptest"
	"testing"
)

func TestValidator_Valid(t *testing.T) {
	v := NewValidator([]string{"key-alpha", " key-beta ", ""})

	cases := []struct {
		name string
		key  string
		want bool
	}{
		{"listed key", "key-alpha", true},
		{"listed key trimmed on load", "key-beta", true},
		{"unlisted key", "key-gamma", false},
		{"prefix of listed key", "key-alph", false},
		{"empty key", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Valid(tc.key); got != tc.want {
				t.Errorf("Valid(%q) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestValidator_EmptyAllowList_RejectsEverything(t *testing.T) {
	v := NewValidator(nil)
	if v.Valid("anything") {
		t.Error("expected all keys to be invalid with empty allow list")
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/fortune", nil)
	r.Header.Set("X-API-Key", "  my-key  ")

	if got := FromRequest(r); got != "my-key" {
		t.Errorf("FromRequest() = %q, want %q", got, "my-key")
	}

	r2 := httptest.NewRequest("GET", "/api/fortune", nil)
	if got := FromRequest(r2); got != "" {
		t.Errorf("FromRequest() without header = %q, want empty", got)
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "***"},
		{"short key", "abc", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"long key", "sk-live-0123456789", "sk-l...6789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Mask(tc.key); got != tc.want {
				t.Errorf("Mask(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}
