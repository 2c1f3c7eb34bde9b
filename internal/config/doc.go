// Package config loads the daemon configuration from a JSON file and fills
// in defaults for anything the operator left out.
package config
