// Package config loads typed configuration structs from environment variables
// (and an optional .env file) via caarlos0/env struct tags.
package config
