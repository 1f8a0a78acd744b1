// Package config loads application configuration from environment
// variables, with validation at startup so misconfiguration fails
// fast rather than at first use. All variables carry the CACTUAR_
// prefix.
package config
