package serverconfig

import (
	"fmt"

	"github.com/derbyops/derbyops/internal/schedule"
)

// EventApplier rewrites the server config file from an event's overrides.
// It satisfies the restart machinery's config-application port.
type EventApplier struct {
	Path string
}

// Apply overlays the event's server-config overrides onto the file and,
// when the event carries tracks, replaces the tracks section. Nil and
// empty-string overrides leave the existing value alone; an explicitly
// set empty password clears the password.
func (a EventApplier) Apply(ev schedule.Event) error {
	if ev.ServerConfig != nil {
		cfg, err := ReadBasic(a.Path)
		if err != nil {
			return err
		}
		applyOverrides(&cfg, *ev.ServerConfig)
		if err := WriteBasic(a.Path, cfg); err != nil {
			return err
		}
	}

	if len(ev.Tracks) > 0 {
		collection := ev.CollectionName
		if collection == "" {
			collection = fmt.Sprintf("Event: %s", ev.Name)
		}
		if err := WriteTracks(a.Path, collection, ev.Tracks); err != nil {
			return err
		}
	}
	return nil
}

func applyOverrides(cfg *Basic, o schedule.ServerConfig) {
	if o.ServerName != nil && *o.ServerName != "" {
		cfg.ServerName = *o.ServerName
	}
	if o.WelcomeMessage != nil && *o.WelcomeMessage != "" {
		cfg.WelcomeMessage = *o.WelcomeMessage
	}
	// Password is the one override where an explicit empty string is
	// meaningful: it removes the password.
	if o.Password != nil {
		cfg.Password = *o.Password
	}
	if o.MaxPlayers != nil {
		cfg.MaxPlayers = *o.MaxPlayers
	}
	if o.Bots != nil {
		cfg.Bots = *o.Bots
	}
	if o.AIDifficulty != nil {
		cfg.AIDifficulty = *o.AIDifficulty
	}
	if o.Laps != nil {
		cfg.Laps = *o.Laps
	}
	if o.VehicleDamage != nil && *o.VehicleDamage != "" {
		cfg.VehicleDamage = *o.VehicleDamage
	}
	if o.LobbyCountdown != nil {
		cfg.LobbyCountdown = *o.LobbyCountdown
	}
}
