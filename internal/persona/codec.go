package persona

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const masked = "***"

var requiredFields = []string{"command", "trigger_names", "personality_desc", "reply_style"}

// Format returns the lower-case extension of path without the dot.
func Format(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// DecodeFile reads a persona definition, choosing the decoder by extension.
// allowed lists the accepted extensions.
func DecodeFile(path string, allowed []string) (Persona, error) {
	format := Format(path)
	if !formatAllowed(format, allowed) {
		return Persona{}, fmt.Errorf("%w: %s", ErrFormat, format)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	return Decode(data, format)
}

// Decode parses data in the given format ("toml" or "json").
func Decode(data []byte, format string) (Persona, error) {
	var raw map[string]any
	var p Persona
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return Persona{}, fmt.Errorf("parse toml: %w", err)
		}
		if err := toml.Unmarshal(data, &p); err != nil {
			return Persona{}, fmt.Errorf("parse toml: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return Persona{}, fmt.Errorf("parse json: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return Persona{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Persona{}, fmt.Errorf("%w: %s", ErrFormat, format)
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Persona{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, "/"))
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	// provenance is assigned by the registry, never read from files
	p.Creator, p.Source = "", ""
	return p.withDefaults(), nil
}

// EncodeTOML renders p for export with credentials masked.
func EncodeTOML(p Persona) ([]byte, error) {
	p = p.clone()
	if p.APIKey != "" {
		p.APIKey = masked
	}
	if p.Secret != "" {
		p.Secret = masked
	}
	if p.Token != "" {
		p.Token = masked
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFile writes p to dir as <name>_export_<unix>.toml and returns the path.
func ExportFile(dir string, p Persona, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := EncodeTOML(p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_export_%d.toml", p.Command, now.Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func formatAllowed(format string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), format) {
			return true
		}
	}
	return false
}
