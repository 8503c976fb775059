package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name: "overrides win",
			env: map[string]string{
				EnvConfigPath:     "/custom/config.toml",
				EnvHome:           "/custom/datec",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/custom/config.toml",
			wantBase:   "/custom/datec",
		},
		{
			name: "xdg directories",
			env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/xdg/config/datec.toml",
			wantBase:   "/xdg/data/datec",
		},
		{
			name: "relative xdg directories are ignored",
			env: map[string]string{
				"XDG_CONFIG_HOME": "rel/config",
				"XDG_DATA_HOME":   "rel/data",
			},
			wantConfig: filepath.Join(homeDir, ".config", "datec.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "datec"),
		},
		{
			name:       "home fallback",
			wantConfig: filepath.Join(homeDir, ".config", "datec.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "datec"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{EnvConfigPath, EnvHome, "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(k, tt.env[k])
			}

			defaults, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if defaults["config_path"] != tt.wantConfig {
				t.Errorf("config_path = %q, want %q", defaults["config_path"], tt.wantConfig)
			}
			if defaults["base_dir"] != tt.wantBase {
				t.Errorf("base_dir = %q, want %q", defaults["base_dir"], tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); defaults["log_dir"] != want {
				t.Errorf("log_dir = %q, want %q", defaults["log_dir"], want)
			}
		})
	}
}
