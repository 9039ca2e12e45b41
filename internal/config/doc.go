// Package config resolves the process settings once at startup from compiled-in
// defaults, an optional YAML settings file, an optional .env file, the process
// environment and CLI flags, in that order of increasing precedence. The
// resulting Config is a plain value: callers receive it by value and nothing in
// the module mutates it after Load returns.
package config
