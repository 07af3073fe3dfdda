// Package mdcheck determines whether a system is vulnerable to
// Meltdown by reading memory whose contents are known in advance.
//
// Check reads a Target with an increasing number of rounds per
// byte, starting at Config.MinRounds and doubling up to
// Config.MaxRounds, and stops at the first exact match. A read
// that matches only the bytes selected by the Target's mask is
// a partial success.
package mdcheck
