/*
Package types defines the shared domain model for the GuardAnt core.

Everything here crosses the tenant data store boundary as JSON, so field names
are stable and additive-only. A NestService is a tenant-owned monitored target;
a ProbeResult is one executed check attempt chain. ServiceEndpoint, FailoverRule
and FailoverEvent model the infrastructure GuardAnt itself routes to, which is
distinct from tenant services and stored under the reserved "system" namespace.
SLATarget and SLAMeasurement carry the contractual metrics.

Timestamps are integer milliseconds since epoch at runtime; RFC3339 strings are
used only at report boundaries.
*/
package types
