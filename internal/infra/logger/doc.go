// Package logger provides the process-wide zap logger.
//
// Output goes to the console and, unless disabled, to a rotated log file
// via lumberjack. Components receive a *zap.Logger through their
// constructors; the package-level helpers exist for the CLI surface where
// no component instance is in scope.
package logger
