package config

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path %q", cfg.Server.BasePath)
	}
	if cfg.Defaults.SeatsLimit != 5 || cfg.Defaults.PublicListingLimit != 3 {
		t.Fatalf("default quotas %+v", cfg.Defaults)
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	raw := `
server:
  addr: ":9090"
auth:
  jwt_secret: supersecret
defaults:
  seats_limit: 10
notifications:
  - url: https://hooks.test/a
    events: [BID_ACCEPTED]
documents:
  url: https://docs.test/generate
`
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path default lost: %q", cfg.Server.BasePath)
	}
	if cfg.Auth.JWTSecret != "supersecret" {
		t.Fatalf("jwt secret %q", cfg.Auth.JWTSecret)
	}
	if cfg.Defaults.SeatsLimit != 10 {
		t.Fatalf("seats limit %d", cfg.Defaults.SeatsLimit)
	}
	if cfg.Defaults.PublicListingLimit != 3 {
		t.Fatalf("public listing default lost: %d", cfg.Defaults.PublicListingLimit)
	}
	if len(cfg.Notifications) != 1 || cfg.Notifications[0].URL != "https://hooks.test/a" {
		t.Fatalf("notifications %+v", cfg.Notifications)
	}
	if cfg.Documents.URL != "https://docs.test/generate" {
		t.Fatalf("documents %+v", cfg.Documents)
	}
	if cfg.Documents.TimeoutSeconds != 10 {
		t.Fatalf("documents timeout default lost: %d", cfg.Documents.TimeoutSeconds)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing addr",
			yaml: "server:\n  addr: \"\"\n",
			want: "server.addr",
		},
		{
			name: "negative seats",
			yaml: "defaults:\n  seats_limit: -1\n",
			want: "seats_limit",
		},
		{
			name: "hook without url",
			yaml: "notifications:\n  - secret: x\n",
			want: "url is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
