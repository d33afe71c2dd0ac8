package commands

//CLIConfig contains configuration for the chat command
type CLIConfig struct {
	Name     string `mapstructure:"name"`
	Topic    string `mapstructure:"topic"`
	Listen   string `mapstructure:"listen"`
	Join     string `mapstructure:"join"`
	Discard  bool   `mapstructure:"discard"`
	LogLevel string `mapstructure:"log"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Name:     "Anonymous",
		Topic:    "chat/lobby",
		Listen:   "127.0.0.1:0",
		LogLevel: "debug",
	}
}
