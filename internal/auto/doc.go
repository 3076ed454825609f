// Package auto builds autonomous routines.
//
// Scoring is described by a ScoringTarget (arm approach and score
// setpoints) aimed at a grid node with a PolePosition. Routines are data: a
// YAML catalogue of named step trees that Build turns into command groups.
// The Chooser holds the operator's selection between matches.
package auto
