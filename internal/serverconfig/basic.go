// Package serverconfig edits the game server's line-oriented key=value
// configuration file. Reads and writes stream the file line by line so that
// comments, ordering, and unknown keys survive every rewrite byte-for-byte.
package serverconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// TrackSectionMarker starts the tracks section; everything at and after a
// line with this prefix belongs to the event loop.
const TrackSectionMarker = "# Event Loop"

// Basic holds the flat server settings derbyops knows how to rewrite.
// Keys absent from this bag are preserved untouched.
type Basic struct {
	ServerName     string
	WelcomeMessage string
	Password       string
	MaxPlayers     int
	Bots           int
	AIDifficulty   int
	Laps           int
	VehicleDamage  string
	LobbyCountdown int
	LogFile        string
}

// ReadBasic parses the known flat keys out of the config file. Blank
// lines, comments, el_* lines, and lines without '=' are skipped; a known
// key with a malformed value is an error carrying the line number.
func ReadBasic(path string) (Basic, error) {
	var cfg Basic

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open server config: %w", err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "el_") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("read server config: %w", err)
	}
	return cfg, nil
}

// WriteBasic rewrites the known flat keys with the bag's current values,
// leaving every other line and the whole tracks section byte-identical.
// The replace is atomic.
func WriteBasic(path string, cfg Basic) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}

	var out bytes.Buffer
	inSection := false
	for _, line := range splitLines(data) {
		if strings.HasPrefix(line, TrackSectionMarker) {
			inSection = true
		}
		if !inSection {
			if key, _, ok := splitKeyValue(strings.TrimSpace(line)); ok && !strings.HasPrefix(key, "el_") {
				if v, known := cfg.value(key); known {
					out.WriteString(key + "=" + v + "\n")
					continue
				}
			}
		}
		out.WriteString(line + "\n")
	}

	if err := renameio.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("replace server config: %w", err)
	}
	return nil
}

// set assigns a parsed key=value pair into the bag. Unknown keys are
// ignored (they round-trip through WriteBasic untouched).
func (b *Basic) set(key, value string) error {
	switch key {
	case "server_name":
		b.ServerName = value
	case "welcome_message":
		b.WelcomeMessage = value
	case "password":
		b.Password = value
	case "max_players":
		return parseInt(key, value, &b.MaxPlayers)
	case "bots":
		return parseInt(key, value, &b.Bots)
	case "ai_difficulty":
		return parseInt(key, value, &b.AIDifficulty)
	case "laps":
		return parseInt(key, value, &b.Laps)
	case "vehicle_damage":
		b.VehicleDamage = value
	case "lobby_countdown":
		return parseInt(key, value, &b.LobbyCountdown)
	case "log":
		b.LogFile = value
	}
	return nil
}

// value renders the bag's current value for a known key.
func (b *Basic) value(key string) (string, bool) {
	switch key {
	case "server_name":
		return b.ServerName, true
	case "welcome_message":
		return b.WelcomeMessage, true
	case "password":
		return b.Password, true
	case "max_players":
		return strconv.Itoa(b.MaxPlayers), true
	case "bots":
		return strconv.Itoa(b.Bots), true
	case "ai_difficulty":
		return strconv.Itoa(b.AIDifficulty), true
	case "laps":
		return strconv.Itoa(b.Laps), true
	case "vehicle_damage":
		return b.VehicleDamage, true
	case "lobby_countdown":
		return strconv.Itoa(b.LobbyCountdown), true
	case "log":
		return b.LogFile, true
	}
	return "", false
}

func parseInt(key, value string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, value)
	}
	*dst = n
	return nil
}

// splitKeyValue splits on the first '=' only.
func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx <= 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// splitLines splits file content into lines without trailing newlines. A
// trailing newline on the file does not produce a phantom empty line.
func splitLines(data []byte) []string {
	s := string(data)
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
