/*
Package health provides network-reachability checkers used to
supplement service.Supervisor's lifecycle state with an independent,
periodic signal: a component can report RUNNING and still be
unreachable (a Postgres instance wedged behind a firewall change, an S3
endpoint returning 5xx). HTTPChecker and TCPChecker implement the same
Checker interface so a caller can probe either kind of dependency on an
interval and feed the result through the same Status state machine.

# Usage

	checker := health.NewTCPChecker(dbHostPort)
	status := health.NewStatus()
	cfg := health.DefaultConfig()

	ticker := time.NewTicker(cfg.Interval)
	for range ticker.C {
		status.Update(checker.Check(ctx), cfg)
		if !status.Healthy {
			// report degraded
		}
	}

Status.Update requires Config.Retries consecutive failures before
flipping Healthy false, and a single success flips it back — avoiding
flapping component state off a lone dropped connection.
*/
package health
