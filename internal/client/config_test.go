package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitebox.yaml")
	content := `api_url: https://sitebox.example.com
token: abc123
site: my-site
post_deploy: "echo done"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.APIURL != "https://sitebox.example.com" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.Token != "abc123" || cfg.Site != "my-site" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.PostDeploy != "echo done" {
		t.Errorf("PostDeploy = %q", cfg.PostDeploy)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig() for missing file succeeded, want error")
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitebox.yaml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.APIURL != "" || cfg.Token != "" {
		t.Errorf("empty config = %+v, want zero values", cfg)
	}
}

func TestSiteURL(t *testing.T) {
	c := New("https://sitebox.example.com/", "")
	if got := c.SiteURL("demo"); got != "https://sitebox.example.com/sites/demo/" {
		t.Errorf("SiteURL() = %q", got)
	}
}
