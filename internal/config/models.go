package config

type ModelsConfig struct {
	Models map[string]ModelMapping `yaml:"models"`
}

// ModelMapping resolves a requested model alias to a primary provider route
// plus ordered fallbacks.
type ModelMapping struct {
	DisplayName string          `yaml:"display_name"`
	Primary     ProviderRoute   `yaml:"primary"`
	Fallback    []ProviderRoute `yaml:"fallback"`
}

type ProviderRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}
