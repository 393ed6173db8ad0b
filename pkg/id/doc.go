// Package id provides sortable 128-bit identifiers used as storage keys for
// records that must list in arrival order, such as dead letters.
//
// An ID is 16 bytes big-endian: [8 bytes unix ms][8 bytes sequence]. Byte
// order equals chronological order, and IDs minted within one millisecond by
// the same Generator are strictly increasing.
//
//	g := id.NewGenerator()
//	k := g.Next()
//	s := k.String()        // 32 hex chars
//	back, _ := id.Parse(s) // back == k
package id
