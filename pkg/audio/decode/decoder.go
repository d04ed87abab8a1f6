// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for inbound speech payload decoders
package decode

import "github.com/Resonate-Protocol/mentor-go/pkg/audio"

// Decoder turns one inbound payload into a playback buffer
type Decoder interface {
	// Decode converts a text-encoded payload to a playback buffer
	Decode(payload string) (audio.PlaybackBuffer, error)

	// Close releases decoder resources
	Close() error
}
