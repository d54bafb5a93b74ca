// Package logx configures the task engine's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A zero value that is a safe no-op, so components work before
//     a Service has been wired up
package logx
