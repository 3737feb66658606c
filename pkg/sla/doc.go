/*
Package sla turns raw probe history into contractual measurements and
reports.

A measurement is the immutable roll-up of one window for one target: uptime,
percentile response time, error rate and availability, each compared against
the target's threshold. Probe results with unknown status carry no signal and
are excluded from every denominator. The overall score is the fraction of
compliant metrics, in steps of 25.

Data quality rides along with every measurement: completeness is observed
samples over the count the nominal probe interval predicts, and any spacing
beyond three times that interval is recorded as a gap.
*/
package sla
