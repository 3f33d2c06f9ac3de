// Package async runs background work off the request path.
//
// Pool is a fixed set of workers with per-task timeouts and panic recovery:
//
//	pool := async.NewPool("mail", 4, 100, 30*time.Second, logger)
//	defer pool.Shutdown(ctx)
//
//	pool.Submit(r.Context(), func(ctx context.Context) error {
//		return sender.Send(ctx, msg)
//	})
//
// Tasks run with the pool's context, not the submitter's, so a task queued
// by an HTTP handler survives the response being written.
package async
