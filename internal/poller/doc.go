// Package poller runs the periodic REST sync jobs.
//
// The Poller:
//   - Runs every job once on start, then on the job's own interval
//   - Runs each job in its own goroutine; a job never overlaps itself
//   - Gives every run a timeout bounded by the job's interval
//   - Logs and counts each run's duration and outcome
package poller
