package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// getOrGenerateInstanceID returns the ID stored at filePath, creating it on
// first use. The ID is still returned when it cannot be persisted.
func getOrGenerateInstanceID(filePath string) string {
	content, err := os.ReadFile(filePath)
	if err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			return id
		}
	}

	newID := "hosts-" + uuid.New().String()
	slog.Info("config: new instance ID generated", "id", newID)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("config: could not create data dir", "dir", dir, "err", err)
		return newID
	}

	if err := os.WriteFile(filePath, []byte(newID), 0o644); err != nil {
		slog.Warn("config: could not save instance ID", "path", filePath, "err", err)
	} else {
		slog.Debug("config: instance ID saved", "path", filePath)
	}

	return newID
}
