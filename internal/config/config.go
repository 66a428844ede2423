package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for derbyops.
type Config struct {
	ListenPort int

	ServerBinary     string
	ServerWorkingDir string
	ServerConfigPath string
	ServerLogFile    string // fallback when the config's log= key is absent

	DataDir     string
	WebhookURL  string
	ChatCommand string
	LogLevel    string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/derbyops).
func Load() Config {
	return Config{
		ListenPort:       viper.GetInt("listen_port"),
		ServerBinary:     viper.GetString("server_binary"),
		ServerWorkingDir: viper.GetString("server_working_dir"),
		ServerConfigPath: viper.GetString("server_config"),
		ServerLogFile:    viper.GetString("server_log"),
		DataDir:          viper.GetString("data_dir"),
		WebhookURL:       viper.GetString("webhook_url"),
		ChatCommand:      viper.GetString("chat_command"),
		LogLevel:         viper.GetString("log_level"),
	}
}
