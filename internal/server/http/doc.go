// Package httpserver is the admin REST surface of a docflow replica: event
// intake, submission lookups and read-only views of cursors, dead letters
// and the coordination tables.
//
// Example:
//
//	s := httpserver.New(rt, rep, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
