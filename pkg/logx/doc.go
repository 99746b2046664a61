// Package logx wraps zerolog behind a small, swap-safe logging service.
//
// The Service owns the sinks (console, optional file) and can re-apply
// configuration at runtime; Loggers handed out earlier keep working and
// pick up the new sinks/level automatically.
package logx
