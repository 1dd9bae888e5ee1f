// Package logx configures calnotify's structured logging.
//
// Logger is a small value-type wrapper over zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional chat sink forwards warnings to a Telegram log chat,
//     gated by a minimum level and a token-bucket limiter
package logx
