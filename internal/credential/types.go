package credential

import "time"

// Source identifies where a key is configured.
type Source string

// Key sources.
const (
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)

const (
	// DefaultName is used when a key is created without a name.
	DefaultName = "API Key"

	// MaxNameLength bounds key names, in runes.
	MaxNameLength = 100

	// keyBytes is the entropy of a generated key (256 bits).
	keyBytes = 32

	// envIDPrefix prefixes the synthetic IDs of environment keys.
	envIDPrefix = "env-"
)

// Record is one persisted API key.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// View is a key as shown to administrators: the secret is masked.
type View struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyPrefix string     `json:"keyPrefix"`
	Source    Source     `json:"source"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Identity is the result of a successful key check.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source Source `json:"source"`
}

// Mask returns the loggable prefix of a key.
func Mask(key string) string {
	const visible = 8
	if len(key) <= visible {
		return "****"
	}
	return key[:visible] + "..."
}
