// Package audit records an operational trail of authentication attempts,
// executed commands and API key administration in SQLite.
//
// The trail is write-mostly and only read back by the admin listing. It is
// never used to rebuild in-memory state.
package audit
