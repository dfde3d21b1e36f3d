package discord

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// splitMessage cuts msg into parts of at most limit runes, preferring line
// breaks.
func splitMessage(msg string, limit int) []string {
	var result []string
	for utf8.RuneCountInString(msg) > limit {
		head := string([]rune(msg)[:limit])
		cut := strings.LastIndex(head, "\n")
		if cut <= 0 {
			cut = len(head)
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}

// loadFile turns a reply attachment into an upload. ref is either a
// base64 data URL or a local path.
func loadFile(ref string) (*discordgo.File, error) {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("unsupported data URL")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URL: %w", err)
		}
		mime := strings.TrimSuffix(meta, ";base64")
		name := "image.png"
		if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
			name = "image." + sub
		}
		return &discordgo.File{Name: name, ContentType: mime, Reader: bytes.NewReader(data)}, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &discordgo.File{Name: filepath.Base(ref), Reader: bytes.NewReader(data)}, nil
}
