// ABOUTME: Live speech wire protocol package
// ABOUTME: Defines the JSON messages exchanged with the speech backend
// Package protocol implements the Gemini Live BidiGenerateContent wire
// messages used by the voice session.
//
// The client sends one Setup message, waits for SetupComplete, then streams
// RealtimeInput audio. The server streams ServerContent with inline audio and
// an interrupted flag.
//
// Example:
//
//	msg := protocol.NewSetup(protocol.SessionConfig{Model: "gemini-2.5-flash", Voice: "Charon"})
//	err := conn.WriteJSON(msg)
package protocol
