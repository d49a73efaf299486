package transcoding

import "errors"

// ErrSpawnFailed is returned when the encoder process could not be started.
var ErrSpawnFailed = errors.New("encoder spawn failed")
