// Package runtime opens the configured storage backend for a replica and
// exposes its event log and stores behind backend-neutral interfaces.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	pos, appended, err := rt.Log().Append(ctx, ev)
package runtime
