// Package maintenance runs the periodic housekeeping jobs: purging spent
// password reset tokens, sweeping expired sessions, archiving the previous
// day's audit log to S3 and checking read replica health.
//
//	scheduler := maintenance.NewScheduler(logger, 5*time.Minute)
//	if err := maintenance.RegisterJobs(scheduler, cfg.Maintenance, deps); err != nil {
//		return err
//	}
//	scheduler.Start()
//	defer scheduler.Stop(ctx)
//
// Jobs can also be run once from the command line:
//
//	gatekeeper maintenance --job purge_password_resets
package maintenance
