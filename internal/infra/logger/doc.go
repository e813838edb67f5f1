// Package logger builds the process zap logger and masks personal data
// before it reaches log fields.
package logger
