package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "DATEC_CONFIG_PATH"
	EnvHome       = "DATEC_HOME"
)

// GetDefaults resolves the config file and the data directory. The DATEC_*
// overrides win, then XDG_CONFIG_HOME and XDG_DATA_HOME, then ~/.config and
// ~/.local/share. Keys: config_path, base_dir, log_dir.
func GetDefaults() (map[string]string, error) {
	configPath, err := resolvePath(EnvConfigPath, "XDG_CONFIG_HOME", ".config", "datec.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolvePath(EnvHome, "XDG_DATA_HOME", filepath.Join(".local", "share"), "datec")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $override verbatim if set. Otherwise it places name
// under $xdg, which must be absolute to count, or under ~/homeRel.
func resolvePath(override, xdg, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: cannot determine home directory: %w", override, err)
	}
	return filepath.Join(home, homeRel, name), nil
}
