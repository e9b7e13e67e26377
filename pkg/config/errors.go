package config

import "errors"

var (
	// ErrConfigNotFound indicates the kestrel.yaml file is missing.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrConfigParse indicates the YAML could not be parsed.
	ErrConfigParse = errors.New("configuration parse failure")

	// ErrEnvExpand indicates environment variable expansion failed.
	ErrEnvExpand = errors.New("environment variable expansion failure")

	// ErrProviderNotFound indicates a named LLM provider is not configured.
	ErrProviderNotFound = errors.New("llm provider not found")

	// ErrUnknownEnumValue indicates an enum field holds an unrecognized value.
	ErrUnknownEnumValue = errors.New("unknown enum value")

	// ErrInvalidConfig indicates a semantic validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)
