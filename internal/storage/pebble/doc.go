// Package pebblestore wraps Pebble with an fsync policy, batches, prefix
// scans and a per-key serialized read-modify-write used by the single-host
// docflow stores.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/store",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	err = db.Update(ctx, key, func(cur []byte, found bool, b *pebble.Batch) ([]byte, error) {
//	    return next(cur), nil
//	})
package pebblestore
