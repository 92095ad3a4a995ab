// Package session tracks the live real-time sessions of a Play Relay process.
//
// The Registry is the only membership source: a session is present from
// Register to Unregister exactly once, and every broadcast fans out over the
// Registry's current snapshot of delivery sinks.
//
// Sessions are classified as controller surfaces (the dashboard pages that
// host the player) or external clients. Classification is decided in one
// place, ClassifyRole, and an explicit role declared by the client takes
// precedence over the name-prefix rule.
package session
