// Package feed turns a partition range of the event log into an
// at-least-once stream of typed events.
//
// A Consumer owns exactly one range. It resumes from the range's cursor (or
// from the beginning of the log when no cursor exists), hands events to a
// Handler in log order and advances its position only after the handler
// succeeds. Positions are persisted after every batch and on a timer.
//
//	c := feed.NewConsumer(log, cursors, deadLetters, feed.Config{}, logger)
//	err := c.Run(ctx, "r-003", generation, mux)
//
// Handler errors are retried with backoff. Errors wrapped with Transient are
// retried until they succeed or the consumer stops; any other error is
// retried MaxAttempts times and then the event is dead-lettered so the range
// keeps moving. Events that fail to decode are dead-lettered right away.
package feed
