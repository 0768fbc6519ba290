// Package tts defines the narrow contract the gateway needs from a
// text-to-speech backend. Synthesis itself lives outside the core; without a
// provider the say routes answer 501.
package tts

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Provider synthesises text and returns a URL the players can fetch the
// audio from. The URL must be reachable by IP from the player LAN.
type Provider interface {
	Say(ctx context.Context, text, language string) (audioURL string, err error)
}

// CleanCache removes cached audio files older than maxAge. Used as a
// scheduler task; errors on individual files are skipped.
func CleanCache(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
