/*
Package probe implements the check executors, one per service type.

Every executor satisfies the same contract:

	┌──────────────────────────────────────────────┐
	│               Executor Interface             │
	│  • Check(ctx, *NestService) Result           │
	│  • Type() ServiceType                        │
	└────────┬─────────────────────────────────────┘
	         │
	  web  tcp  ping  dns  ssl  keyword  port  heartbeat
	  github  uptime-api  custom  aws/azure/gcp  kubernetes  docker

Executors are stateless and safe under parallel invocation. They never return
Go errors; transport failures become Result{Status: down} and an expired
deadline always yields the canonical "Request timeout" message. The per-check
deadline arrives through the context; executors that shell out (ping,
kubernetes, docker) additionally cap the child process.

A Result's "unknown" status is never produced here. Only the probe engine may
downgrade a failing chain to unknown after ruling out local network
connectivity, because unknown must not count as a failure downstream.
*/
package probe
