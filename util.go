package relay

import (
	"errors"
	"time"
)

// ErrNotListening is returned when dialing a simulated transport whose
// peer has not registered its inbox yet.
var ErrNotListening = errors.New("transport: destination is not listening")

// Retry calls f up to attempts times, sleeping between calls, until it
// succeeds.
func Retry(f func() error, attempts int, sleep time.Duration) error {
	var err error
	for i := 0; ; i++ {
		err = f()
		if err == nil {
			return nil
		}
		if i >= attempts-1 {
			break
		}
		time.Sleep(sleep)
	}
	return err
}
