package logmon

import (
	"regexp"
	"strings"
)

// Console line shapes emitted by the dedicated server. A leading '*' on a
// participant name marks a bot.
var (
	joinRe  = regexp.MustCompile(`- (\*?)(.+?) has joined\.`)
	leaveRe = regexp.MustCompile(`- (\*?)(.+?) has quit`)
	kickRe  = regexp.MustCompile(`- (\*?)(.+?) kicked\.`)
	trackRe = regexp.MustCompile(`Current track loaded!\s*\(([^)]+)\)`)
)

const eventStartedMarker = "Event started!"

func parseJoin(line string) (name string, isBot bool, ok bool) {
	return parseParticipant(joinRe, line)
}

func parseLeave(line string) (name string, isBot bool, ok bool) {
	return parseParticipant(leaveRe, line)
}

func parseKick(line string) (name string, isBot bool, ok bool) {
	return parseParticipant(kickRe, line)
}

func parseParticipant(re *regexp.Regexp, line string) (string, bool, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return "", false, false
	}
	return m[2], m[1] == "*", true
}

func parseTrackLoaded(line string) (string, bool) {
	m := trackRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func parseEventStarted(line string) bool {
	return strings.Contains(line, eventStartedMarker)
}
