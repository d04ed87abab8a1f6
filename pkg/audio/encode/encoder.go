// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for capture audio encoders
package encode

// Encoder encodes float samples in [-1, 1] to wire bytes
type Encoder interface {
	// Encode converts samples to encoded audio data
	Encode(samples []float32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}
