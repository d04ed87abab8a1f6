// ABOUTME: Transport package for live speech sessions
// ABOUTME: Provides websocket and SDK-backed implementations of the Session contract
// Package transport connects a voice session to the live speech backend.
//
// Two dialers implement the same contract: WebSocketDialer speaks the
// BidiGenerateContent JSON protocol directly over gorilla/websocket, and
// GenAIDialer goes through the google.golang.org/genai Live API. Both return
// a pending Session immediately, queue outbound audio until the backend
// acknowledges setup, and end every session with exactly one OnClose or
// OnError.
package transport
