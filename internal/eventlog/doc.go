// Package eventlog implements the docflow event log: an append-only,
// partition-keyed store persisted in Pebble.
//
// # Ranges
//
// Partition keys (submission ids) are hashed with xxhash64 and the hash space
// is divided into N contiguous, equal-width ranges. Each range is one
// physical log with its own sequence, so events of one submission keep
// their append order.
//
// # Layout
//
//	log/{range_be4}/m            last assigned seq
//	log/{range_be4}/e/{seq_be8}  entries
//	idem/{eventId}               range_be4|seq_be8 of the first append
//
// Entries are stored as varint(headerLen) | header | payload | crc32c, where
// the header is the event id and the payload is the JSON envelope.
//
// # Tokens
//
// A token is the 8-byte big-endian seq of the last consumed entry. An empty
// token means "before the first entry". Tokens of one range order bytewise.
//
//	s, _ := eventlog.Open(db, eventlog.NewRanges(16))
//	pos, appended, _ := s.Append(ctx, ev)
//	items, _ := s.Fetch(ctx, pos.Range, nil, 128)
//	woke := s.WaitForAppend(ctx, "r-003", 200*time.Millisecond)
package eventlog
