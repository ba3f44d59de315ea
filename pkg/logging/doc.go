// Package logging configures the structured loggers used across stubby.
//
// Loggers are plain *slog.Logger values. Components take one through a
// WithLogger option and fall back to Nop when none is given:
//
//	log := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	})
//	log.Info("stub server started", "stubs_port", 8882)
package logging
