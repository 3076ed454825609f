// Package config implements the configuration of the robot daemon.
//
// Baseline returns the tuned defaults. Load layers an optional YAML or JSON
// file and ROBOTD_* environment overrides on top of the baseline and
// validates the result. Watch reloads the file when it changes on disk and
// hands each valid configuration to a callback.
package config
