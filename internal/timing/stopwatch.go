// Package timing provides the stopwatch used to report how long encrypt
// and decrypt operations take.
package timing

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
)

// GenerateOpID generates a unique operation ID in format "op-XXXXXX"
func GenerateOpID() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "op-000000"
	}
	return "op-" + hex.EncodeToString(b)
}

// Stopwatch measures one operation from Start to Elapsed
type Stopwatch struct {
	id      string
	name    string
	started time.Time
}

// Start begins timing the named operation
func Start(name string) *Stopwatch {
	return &Stopwatch{
		id:      GenerateOpID(),
		name:    name,
		started: time.Now(),
	}
}

// ID returns the operation ID
func (sw *Stopwatch) ID() string {
	return sw.id
}

// Elapsed returns the time since Start
func (sw *Stopwatch) Elapsed() time.Duration {
	return time.Since(sw.started)
}

// Observe logs the elapsed time with the operation's name and ID
func (sw *Stopwatch) Observe(logger zerolog.Logger) {
	logger.Info().
		Str("op_id", sw.id).
		Str("op", sw.name).
		Dur("elapsed", sw.Elapsed()).
		Msg("Operation finished")
}
