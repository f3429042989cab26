// Package logx wraps zerolog behind a small, swap-safe logging facade.
//
// Components hold a Logger value; the Service can re-apply sink/level
// configuration at runtime without invalidating existing loggers.
package logx
