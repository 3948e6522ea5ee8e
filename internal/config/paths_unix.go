//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"databot.yaml",
		filepath.Join(home, ".databot", "config.yaml"),
		"/etc/databot/databot.yaml",
	}
}
