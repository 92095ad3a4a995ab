// Package playback holds the single shared playback record of a Play Relay
// process: volume, playback status, current title and controller activity.
//
// Every read returns a Snapshot copy. Every write goes through one mutex,
// so callers never observe a half-applied update. Updates are last-write-wins.
//
// Validation of untrusted input happens in the Parse* helpers, which are
// shared by the REST command surface and the session message path so both
// accept exactly the same values.
package playback
