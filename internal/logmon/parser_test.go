package logmon

import "testing"

func TestParseJoin(t *testing.T) {
	cases := []struct {
		line  string
		name  string
		isBot bool
		ok    bool
	}{
		{"12:01:15 - CrashKing has joined.", "CrashKing", false, true},
		{"12:01:15 - *Bot Driver has joined.", "Bot Driver", true, true},
		{"12:01:15 - CrashKing has quit (leaving).", "", false, false},
		{"something unrelated", "", false, false},
	}
	for _, c := range cases {
		name, isBot, ok := parseJoin(c.line)
		if ok != c.ok || name != c.name || isBot != c.isBot {
			t.Fatalf("parseJoin(%q) = (%q, %v, %v), want (%q, %v, %v)",
				c.line, name, isBot, ok, c.name, c.isBot, c.ok)
		}
	}
}

func TestParseLeaveAndKick(t *testing.T) {
	name, isBot, ok := parseLeave("12:09:02 - CrashKing has quit (leaving).")
	if !ok || name != "CrashKing" || isBot {
		t.Fatalf("leave parse wrong: %q %v %v", name, isBot, ok)
	}

	name, isBot, ok = parseKick("12:09:02 - *Ghost kicked.")
	if !ok || name != "Ghost" || !isBot {
		t.Fatalf("kick parse wrong: %q %v %v", name, isBot, ok)
	}

	if _, _, ok := parseKick("12:09:02 - Ghost has quit"); ok {
		t.Fatal("quit line must not parse as kick")
	}
}

func TestParseTrackLoaded(t *testing.T) {
	id, ok := parseTrackLoaded("Current track loaded! (gravel1_main_loop)")
	if !ok || id != "gravel1_main_loop" {
		t.Fatalf("track parse wrong: %q %v", id, ok)
	}
	if _, ok := parseTrackLoaded("Current track loading..."); ok {
		t.Fatal("unexpected match")
	}
}

func TestParseEventStarted(t *testing.T) {
	if !parseEventStarted("12:10:00 Event started!") {
		t.Fatal("expected match")
	}
	if parseEventStarted("Event starting soon") {
		t.Fatal("unexpected match")
	}
}
