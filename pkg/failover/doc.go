/*
Package failover watches the platform's own upstream endpoints and moves
traffic away from failing ones.

Two loops run concurrently. The health loop probes every non-maintenance
endpoint at a fixed interval and classifies it healthy, degraded or
unhealthy; a per-endpoint ring buffer of recent samples backs metric
derivation (mean response time, error rate, availability over the last
minute). The detection loop walks enabled rules by priority, matches
endpoints by name regex, and triggers a failover when every condition of a
rule holds.

A failover event moves through a fixed state machine:

	triggered -> in_progress -> completed -> recovering -> recovered
	                         -> failed

The controller is the only writer of event state. At most one non-terminal
event exists per source endpoint, and the count of non-terminal events never
exceeds maxConcurrentFailovers. Traffic movement itself goes through the
TrafficRouter interface; the controller carries no load balancer or DNS
logic of its own.
*/
package failover
