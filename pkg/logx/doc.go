// Package logx configures spawnbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + key=value pairs)
//   - File output JSON-structured
//
// The zero value is a safe no-op logger.
package logx
