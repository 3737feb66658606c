/*
Package jobs is the background job system: five fixed priority queues
(critical, high, normal, low, bulk) with per-queue concurrency and rate caps,
a processor registry, retry with configurable backoff, and once/interval/cron
scheduling.

Dispatch ordering is strict: on every tick the dispatcher drains runnable
work from critical before looking at high, and so on down to bulk. Within a
queue, executions run FIFO by enqueue time. Age never promotes a job across
queues.

A failed attempt retries only when the error is classified recoverable and
attempts remain; validation, authorization and not-found errors fail
immediately. Cancellation removes pending executions and signals running
ones through the execution handle; a processor that ignores the signal runs
to natural completion.
*/
package jobs
