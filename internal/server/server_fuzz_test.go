package server

import (
	"strings"
	"testing"
)

// FuzzIsSafeName throws hostile service names at the API-side validator.
func FuzzIsSafeName(f *testing.F) {
	f.Add("stt")
	f.Add("llama.cpp-8080")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("name/with/slash")
	f.Add("name\\with\\backslash")
	f.Add("realtime_v2")
	f.Add("...dotted")
	f.Add("unicode한글name")
	f.Add("name\x00null")
	f.Add("name\nnewline")
	f.Add("name\ttab")

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		safe := isSafeName(name)
		if !safe {
			return
		}
		// Everything accepted here may end up in pidfile and log paths, so
		// it must be plain ASCII with no separators, dots pairs, or controls.
		if name == "" {
			t.Error("empty name accepted")
		}
		if strings.Contains(name, "..") {
			t.Errorf("name with .. accepted: %q", name)
		}
		for i := 0; i < len(name); i++ {
			if name[i] < 0x20 || name[i] >= 0x80 {
				t.Errorf("name with byte 0x%02x accepted: %q", name[i], name)
			}
		}
		if strings.ContainsAny(name, "/\\") {
			t.Errorf("name with path separator accepted: %q", name)
		}
	})
}

// FuzzSanitizeBase checks the normalized base path shape.
func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/omnixd")
	f.Add("/omnixd/")
	f.Add("omnixd")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")
	f.Add("/path/../traversal")
	f.Add("/path\x00null")

	f.Fuzz(func(t *testing.T, basePath string) {
		if len(basePath) > 200 {
			t.Skip("base path too long")
		}
		got := sanitizeBase(basePath)
		if got == "" {
			return
		}
		if !strings.HasPrefix(got, "/") {
			t.Errorf("missing leading slash: %q -> %q", basePath, got)
		}
		if strings.HasSuffix(got, "/") {
			t.Errorf("trailing slash kept: %q -> %q", basePath, got)
		}
		// Normalization must be a fixed point, otherwise router mounts would
		// depend on how often the config was sanitized.
		if again := sanitizeBase(got); again != got {
			t.Errorf("not idempotent: %q -> %q -> %q", basePath, got, again)
		}
	})
}
