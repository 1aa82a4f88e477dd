// Package pinarchive implements a Discord bot which pins messages once
// enough members react to them with a configured emoji, and copies every
// pinned message into a per-server archive channel.
//
// Discord caps each channel at 50 pins. When a channel gets close to that
// limit, the oldest pin is removed to make room, and the archive channel
// becomes the long-term record.
//
// Key components:
//
//   - PinArchive: owns the runtime (config store, Discord session, API).
//   - Discord: session wrapper, gateway handlers and slash command definitions.
//   - ConfigStore: per-server settings (archive channel, trigger emoji,
//     required reaction count) and the archive log.
//   - API: optional read-only HTTP API with health and prometheus metrics.
//
// Slash commands:
//
//   - /init: set the archive channel for the server.
//   - /getreactcount: show the number of reactions required to pin.
//   - /setreactcount: change the number of reactions required to pin.
//   - /ping: show round-trip latency.
package pinarchive
