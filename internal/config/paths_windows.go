//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		"databot.yaml",
		filepath.Join(local, "DataBot", "config.yaml"),
		filepath.Join(programData, "DataBot", "databot.yaml"),
	}
}
