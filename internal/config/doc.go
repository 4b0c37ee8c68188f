// Package config loads the layermonitor YAML configuration.
//
// Load reads the file, Validate checks it and fills every omitted field with
// its default, so the rest of the program never sees a zero value it has to
// interpret.
package config
