/*
Package engine is the probe engine: it owns the service registry, per-service
scheduling, the retry policy and result persistence.

Each registered service gets one ticker goroutine. Concurrency is bounded on
two layers: a weighted semaphore caps in-flight probes engine-wide
(concurrentChecks) and a per-service gate drops a tick outright while the
previous run is still in flight, so slow upstreams can never pile up work.

The check contract per tick:

 1. Resolve the executor by service type (unknown type is a single down).
 2. Run up to maxRetries attempts under checkTimeout each, sleeping
    retryDelay between failures; the first up short-circuits.
 3. If every attempt failed and the network sanity check is enabled, probe
    the configured well-known hosts; when none respond the result is
    downgraded to unknown, which downstream consumers must not count as a
    failure.
 4. Persist the ProbeResult (when storeMetrics is on) and always refresh the
    service row's last-known fields. Store failures are logged and swallowed;
    they never change the returned result.
*/
package engine
