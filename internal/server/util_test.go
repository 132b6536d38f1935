package server

import (
	"strings"
	"testing"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeID(t *testing.T) {
	valid := []string{"a", "A1._-", "3f2c1b9e-7c1a-4f5e-9a51-0d2b8c4e6f10"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글", strings.Repeat("x", 129)}
	for _, s := range valid {
		if !isSafeID(s) {
			t.Fatalf("expected valid id %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeID(s) {
			t.Fatalf("expected invalid id %q", s)
		}
	}
}

func FuzzIsSafeID(f *testing.F) {
	f.Add("valid-id_123")
	f.Add("")
	f.Add("../etc/passwd")
	f.Add("id/with/slash")
	f.Add("id\\with\\backslash")
	f.Add("unicode한글")
	f.Add("id\x00null")

	f.Fuzz(func(t *testing.T, id string) {
		if !isSafeID(id) {
			return
		}
		if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
			t.Errorf("isSafeID accepted %q", id)
		}
	})
}
