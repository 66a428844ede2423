package serverconfig

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/derbyops/derbyops/internal/schedule"
)

// collectionComment prefixes the comment line that carries the display
// name of the track set inside the section header.
const collectionComment = "#CollectionName "

// ReadTracks parses the tracks section into entries. Entries that were
// disabled in-place with a leading '#' are recovered by stripping the
// comment marker before decoding.
func ReadTracks(path string) (collection string, tracks []schedule.Track, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read server config: %w", err)
	}

	inSection := false
	var current *schedule.Track
	for _, line := range splitLines(data) {
		trimmed := strings.TrimSpace(line)
		if !inSection {
			if strings.HasPrefix(trimmed, TrackSectionMarker) {
				inSection = true
			}
			continue
		}

		if strings.HasPrefix(trimmed, collectionComment) {
			collection = strings.TrimSpace(strings.TrimPrefix(trimmed, collectionComment))
			continue
		}

		// A commented entry line decodes after stripping one '#'.
		candidate := trimmed
		if strings.HasPrefix(candidate, "#") && !strings.HasPrefix(candidate, "##") {
			candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "#"))
		}
		key, value, ok := splitKeyValue(candidate)
		if !ok || !strings.HasPrefix(key, "el_") {
			continue
		}

		if key == "el_add" {
			tracks = append(tracks, schedule.Track{Track: value})
			current = &tracks[len(tracks)-1]
			continue
		}
		if current != nil {
			setTrackOption(current, key, value)
		}
	}
	return collection, tracks, nil
}

// WriteTracks replaces the tracks section with the given entries. Lines up
// to the section marker are copied verbatim; contiguous leading section
// comments survive except `## Add` headers, old collection names, and
// commented-out entries. Everything else in the old section is dropped.
func WriteTracks(path, collection string, tracks []schedule.Track) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}

	var out bytes.Buffer
	lines := splitLines(data)
	i := 0
	seenMarker := false
	for ; i < len(lines); i++ {
		out.WriteString(lines[i] + "\n")
		if strings.HasPrefix(strings.TrimSpace(lines[i]), TrackSectionMarker) {
			seenMarker = true
			i++
			break
		}
	}
	if !seenMarker {
		// No section yet: start one at EOF.
		out.WriteString(TrackSectionMarker + "\n")
	}

	// Keep the section's leading comment block.
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		if strings.HasPrefix(trimmed, "## Add") || strings.HasPrefix(trimmed, collectionComment) {
			continue
		}
		stripped := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if key, _, ok := splitKeyValue(stripped); ok && strings.HasPrefix(key, "el_") {
			break
		}
		out.WriteString(lines[i] + "\n")
	}

	if collection != "" {
		out.WriteString(collectionComment + collection + "\n")
	}

	for n, tr := range tracks {
		out.WriteString("\n")
		fmt.Fprintf(&out, "## Add event %d to Loop\n", n+1)
		out.WriteString("el_add=" + tr.Track + "\n")
		for _, opt := range trackOptions(&tr) {
			out.WriteString(opt + "\n")
		}
	}

	if err := renameio.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("replace server config: %w", err)
	}
	return nil
}

// setTrackOption decodes one el_* option into the entry. Unknown options
// are dropped; the writer only ever emits options it understands.
func setTrackOption(tr *schedule.Track, key, value string) {
	switch key {
	case "el_gamemode":
		tr.Gamemode = strPtr(value)
	case "el_laps":
		tr.Laps = intFromString(value)
	case "el_bots":
		tr.Bots = intFromString(value)
	case "el_num_teams":
		tr.NumTeams = intFromString(value)
	case "el_car_reset_disabled":
		tr.CarResetDisabled = boolFromString(value)
	case "el_wrong_way_limiter_disabled":
		tr.WrongWayLimiterDisabled = boolFromString(value)
	case "el_car_class_restriction":
		tr.CarClassRestriction = strPtr(value)
	case "el_car_restriction":
		tr.CarRestriction = strPtr(value)
	case "el_weather":
		tr.Weather = strPtr(value)
	}
}

// trackOptions renders the set optional fields of an entry, skipping
// anything unset.
func trackOptions(tr *schedule.Track) []string {
	var opts []string
	add := func(key, value string) {
		opts = append(opts, key+"="+value)
	}
	if tr.Gamemode != nil {
		add("el_gamemode", *tr.Gamemode)
	}
	if tr.Laps != nil {
		add("el_laps", strconv.Itoa(*tr.Laps))
	}
	if tr.Bots != nil {
		add("el_bots", strconv.Itoa(*tr.Bots))
	}
	if tr.NumTeams != nil {
		add("el_num_teams", strconv.Itoa(*tr.NumTeams))
	}
	if tr.CarResetDisabled != nil {
		add("el_car_reset_disabled", boolValue(*tr.CarResetDisabled))
	}
	if tr.WrongWayLimiterDisabled != nil {
		add("el_wrong_way_limiter_disabled", boolValue(*tr.WrongWayLimiterDisabled))
	}
	if tr.CarClassRestriction != nil {
		add("el_car_class_restriction", *tr.CarClassRestriction)
	}
	if tr.CarRestriction != nil {
		add("el_car_restriction", *tr.CarRestriction)
	}
	if tr.Weather != nil {
		add("el_weather", *tr.Weather)
	}
	return opts
}

func strPtr(s string) *string { return &s }

func intFromString(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func boolFromString(s string) *bool {
	v := s == "1" || strings.EqualFold(s, "true")
	return &v
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
