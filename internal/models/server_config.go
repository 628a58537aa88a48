package models

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Port           string `yaml:"port"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
	AllowedOrigins string `yaml:"allowed_origins"`
}
