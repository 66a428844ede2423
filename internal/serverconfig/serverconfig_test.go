package serverconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/derbyops/derbyops/internal/schedule"
)

const sampleConfig = `# Derby dedicated server configuration
server_name=Old Name
welcome_message=Welcome racers!
password=
max_players=24
bots=4
ai_difficulty=2
laps=3
vehicle_damage=realistic
lobby_countdown=30
log=server.log
foo_unknown=42
steam_port=27015

# Event Loop
# Tracks are rotated in order.
#CollectionName Old Collection

## Add event 1 to Loop
el_add=gravel1_main_loop
el_laps=5
el_bots=8

## Add event 2 to Loop
el_add=speedway2_demolition_arena
el_gamemode=derby
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server_config.cfg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadBasic(t *testing.T) {
	path := writeSample(t, sampleConfig)
	cfg, err := ReadBasic(path)
	if err != nil {
		t.Fatalf("read basic: %v", err)
	}
	if cfg.ServerName != "Old Name" {
		t.Fatalf("server_name = %q", cfg.ServerName)
	}
	if cfg.MaxPlayers != 24 || cfg.Bots != 4 || cfg.Laps != 3 || cfg.LobbyCountdown != 30 {
		t.Fatalf("numeric fields wrong: %+v", cfg)
	}
	if cfg.VehicleDamage != "realistic" {
		t.Fatalf("vehicle_damage = %q", cfg.VehicleDamage)
	}
	if cfg.LogFile != "server.log" {
		t.Fatalf("log = %q", cfg.LogFile)
	}
	if cfg.Password != "" {
		t.Fatalf("password = %q", cfg.Password)
	}
}

func TestReadBasicMissingFile(t *testing.T) {
	if _, err := ReadBasic(filepath.Join(t.TempDir(), "nope.cfg")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadBasicMalformedValueReportsLine(t *testing.T) {
	path := writeSample(t, "server_name=x\nmax_players=lots\n")
	_, err := ReadBasic(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line number in error, got %v", err)
	}
}

func TestWriteBasicRoundTripUnchanged(t *testing.T) {
	path := writeSample(t, sampleConfig)
	cfg, err := ReadBasic(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteBasic(path, cfg); err != nil {
		t.Fatalf("write basic: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != sampleConfig {
		t.Fatalf("unchanged write must be byte-identical:\n%s", got)
	}
}

func TestWriteBasicPreservesUnknownKeysAndTracksSection(t *testing.T) {
	path := writeSample(t, sampleConfig)
	cfg, err := ReadBasic(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ServerName = "New"
	if err := WriteBasic(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(path)
	text := string(got)
	if !strings.Contains(text, "server_name=New\n") {
		t.Fatalf("server_name not rewritten:\n%s", text)
	}
	if !strings.Contains(text, "foo_unknown=42\n") {
		t.Fatal("unknown key lost")
	}
	if !strings.Contains(text, "steam_port=27015\n") {
		t.Fatal("legacy key lost")
	}

	// The tracks section must be byte-identical.
	wantSection := sampleConfig[strings.Index(sampleConfig, TrackSectionMarker):]
	gotSection := text[strings.Index(text, TrackSectionMarker):]
	if gotSection != wantSection {
		t.Fatalf("tracks section changed:\n%s", gotSection)
	}
}

func TestReadTracks(t *testing.T) {
	path := writeSample(t, sampleConfig)
	collection, tracks, err := ReadTracks(path)
	if err != nil {
		t.Fatalf("read tracks: %v", err)
	}
	if collection != "Old Collection" {
		t.Fatalf("collection = %q", collection)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].Track != "gravel1_main_loop" || tracks[0].Laps == nil || *tracks[0].Laps != 5 {
		t.Fatalf("track 0 wrong: %+v", tracks[0])
	}
	if tracks[1].Gamemode == nil || *tracks[1].Gamemode != "derby" {
		t.Fatalf("track 1 wrong: %+v", tracks[1])
	}
}

func TestReadTracksRecoversCommentedEntries(t *testing.T) {
	content := "server_name=x\n\n# Event Loop\n\n#el_add=disabled_track\n#el_laps=2\n"
	path := writeSample(t, content)
	_, tracks, err := ReadTracks(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 || tracks[0].Track != "disabled_track" {
		t.Fatalf("expected recovered entry, got %+v", tracks)
	}
	if tracks[0].Laps == nil || *tracks[0].Laps != 2 {
		t.Fatalf("expected recovered laps, got %+v", tracks[0])
	}
}

func TestWriteTracksReplacesSectionOnly(t *testing.T) {
	path := writeSample(t, sampleConfig)
	laps := 7
	in := []schedule.Track{
		{Track: "a"},
		{Track: "b", Laps: &laps, Gamemode: strPtr("racing")},
	}
	if err := WriteTracks(path, "Friday Cup", in); err != nil {
		t.Fatalf("write tracks: %v", err)
	}

	got, _ := os.ReadFile(path)
	text := string(got)

	// Everything before the marker is untouched.
	wantPrefix := sampleConfig[:strings.Index(sampleConfig, TrackSectionMarker)]
	if !strings.HasPrefix(text, wantPrefix) {
		t.Fatalf("prefix changed:\n%s", text)
	}
	if !strings.Contains(text, "# Tracks are rotated in order.\n") {
		t.Fatal("section comment lost")
	}
	if !strings.Contains(text, "#CollectionName Friday Cup\n") {
		t.Fatal("collection name not persisted")
	}
	if strings.Contains(text, "Old Collection") {
		t.Fatal("old collection name survived")
	}
	if !strings.Contains(text, "## Add event 1 to Loop\nel_add=a\n") {
		t.Fatalf("track a missing:\n%s", text)
	}
	if !strings.Contains(text, "## Add event 2 to Loop\nel_add=b\nel_gamemode=racing\nel_laps=7\n") {
		t.Fatalf("track b options wrong:\n%s", text)
	}
	if strings.Contains(text, "speedway2_demolition_arena") {
		t.Fatal("old entries survived")
	}
}

func TestWriteTracksIdempotent(t *testing.T) {
	path := writeSample(t, sampleConfig)
	collection, tracks, err := ReadTracks(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTracks(path, collection, tracks); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)

	collection2, tracks2, err := ReadTracks(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTracks(path, collection2, tracks2); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Fatalf("second write differs:\n--- first\n%s\n--- second\n%s", first, second)
	}
}

func TestWriteTracksWithoutMarkerAppendsSection(t *testing.T) {
	path := writeSample(t, "server_name=x\n")
	if err := WriteTracks(path, "Fresh", []schedule.Track{{Track: "t1"}}); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	text := string(got)
	if !strings.Contains(text, TrackSectionMarker+"\n") {
		t.Fatal("marker not appended")
	}
	if !strings.Contains(text, "el_add=t1\n") {
		t.Fatal("entry missing")
	}
}
