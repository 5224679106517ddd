package storage

import "testing"

func TestKeyFormat(t *testing.T) {
	got := Key("site-1", "dep-1", "assets/app.js")
	want := "sites/site-1/deployments/dep-1/assets/app.js"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestKeyStripsLeadingSlashes(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"single leading slash", "/index.html", "sites/s/deployments/d/index.html"},
		{"many leading slashes", "///index.html", "sites/s/deployments/d/index.html"},
		{"no leading slash", "index.html", "sites/s/deployments/d/index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key("s", "d", tt.path); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	paths := []string{"/a", "///a/b", "a", "", "a//b", "/"}
	for _, p := range paths {
		once := NormalizePath(p)
		twice := NormalizePath(once)
		if once != twice {
			t.Errorf("NormalizePath not idempotent for %q: %q != %q", p, once, twice)
		}
		if Key("s", "d", p) != Key("s", "d", once) {
			t.Errorf("Key differs for raw vs normalized path %q", p)
		}
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple file", "index.html", false},
		{"nested file", "assets/css/site.css", false},
		{"leading slash ok", "/index.html", false},
		{"dotfile ok", ".well-known/keys.json", false},
		{"empty", "", true},
		{"only slashes", "///", true},
		{"parent segment", "../secret", true},
		{"embedded parent segment", "a/../../b", true},
		{"trailing parent segment", "a/..", true},
		{"backslash", "a\\b", true},
		{"dotdot in name ok", "notes..txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
