// Package sl holds small slog attribute helpers.
package sl

import "log/slog"

// Err returns an "error" attribute carrying the error text.
//
//	log.Error("failed to update profile", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
