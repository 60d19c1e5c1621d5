// features.go - build/version identification
//
// Adapted from the teacher's printFeatures: the multi-backend "compiled
// features" list doesn't apply here (this project links one fixed backend
// set, chosen at runtime rather than by build tag), so this keeps only the
// version string, surfaced through cli.App's own -v/--version flag.
//
// License: GPLv3 or later

package main

const Version = "0.1.0"
