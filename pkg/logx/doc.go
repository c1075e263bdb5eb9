// Package logx is opsconsole's structured logging: a small Logger value over
// zerolog with a human console writer, an optional JSON file and an optional
// chat sink that forwards warnings to the operator chat.
package logx
