// Package gemlive is a realtime voice and vision agent front-end for the
// Gemini Live BidiGenerateContent API.
//
// It captures a microphone (and optionally a camera), streams the input to a
// live multimodal session over a WebSocket, plays the synthesized speech back
// gaplessly, and lets the remote agent drive local application state through
// tool calls.
//
// # Architecture
//
// An Engine owns one Session at a time and runs every state change on a
// single loop goroutine:
//
//   - Transport: the duplex WebSocket. Dial sends the setup message and waits
//     for setupComplete; inbound frames are handed to a Handler in arrival
//     order and faults surface once, without retry.
//   - Capture: microphone frames are downmixed, resampled to 16 kHz and cut
//     into 4096-sample windows, each sent as one PCM16 realtimeInput chunk.
//   - Scheduler: inbound 24 kHz PCM is decoded and placed at
//     max(cursor, now) on the output device clock, back to back.
//     Interruption stops everything in flight and resets the cursor to zero.
//   - Dispatcher: set_mood, set_environment, multiply_self, toggle_camera and
//     set_ghost_mode are validated by pure functions, applied to AppState and
//     each acknowledged with {"result": "ok"}.
//
// # Quick Start
//
//	eng, err := gemlive.NewEngine(gemlive.Options{
//		Transport:  gemlive.Config{Credential: gemlive.APIKey(os.Getenv("GEMINI_API_KEY"))},
//		Setup:      gemlive.Setup{Instructions: "You are a friendly orb.", Voice: "Puck"},
//		Microphone: mic,
//		Output:     speaker,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	if err := eng.Start(ctx); err != nil {
//		log.Println(gemlive.StatusText(err))
//	}
//	snap := eng.Snapshot() // poll from the render loop
//
// Real devices live in the device package; the observe package serves
// snapshots to an out-of-process renderer.
//
// # Error Handling
//
// Start reports an *AccessError when the microphone cannot be opened and a
// *ConnectionError when the transport fails. Mid-session failures end the
// session and leave a short StatusText in the snapshot. Malformed inbound
// messages are logged and dropped.
package gemlive
