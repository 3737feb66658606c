/*
Package storage implements the tenant data store ("Golem adapter"), the only
persistence path in the GuardAnt core.

Every row is addressed by (nestID, dataType, key) and stored as JSON. The
BoltDB implementation keeps one bucket per DataType and prefixes row keys with
the nest id, so a ListByType for nest A can never observe nest B's rows:

	Bucket: MONITORING_DATA
	├── nest-a/check:svc_x:1700000000000 → ProbeResult JSON
	├── nest-a/check:svc_x:1700000060000 → ProbeResult JSON
	└── nest-b/check:svc_y:1700000000000 → ProbeResult JSON

	Bucket: CONFIGURATION
	├── nest-a/service:svc_x → NestService JSON
	└── system/endpoint:ep_1 → ServiceEndpoint JSON (reserved namespace)

Writes are durable before Put returns (bolt commits the transaction), which
also gives the writer read-your-writes. Transient bolt failures surface as
ErrStoreUnavailable; a Get miss is (found=false, nil), not an error.
*/
package storage
