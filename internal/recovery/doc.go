// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package recovery restores the data store from backup artifacts.

Every recovery runs the same strictly sequential state machine:

	VALIDATING -> DECRYPTING -> DECOMPRESSING -> RESTORING -> [LOG_REPLAY] -> COMPLETE
	     |             |              |              |              |
	     +-------------+--------------+--------------+--------------+--> FAILED

VALIDATING checks the prerequisites (artifact exists and verifies against its
recorded checksum, data store reachable, 3x the artifact size free in the work
directory, operator authorized) and then consumes the operator's confirmation
token. A token is only spent once everything else has passed, so an operator
can fix the reported issues and retry with the same token.

DECRYPTING and DECOMPRESSING reverse the creation pipeline into a private
scratch directory under the work directory. Before RESTORING, the recovered
payload is checked against the source checksum recorded at creation time; a
mismatch aborts without touching the data store. Scratch files are removed
when the operation ends, successfully or not.

LOG_REPLAY only runs for point-in-time recovery. It is delegated to a
ChangeLog; the default NoopChangeLog replays nothing and the operation records
logReplay=unavailable in its details. Selective recovery restores the whole
artifact and records the requested tables and the fallback.

Only one recovery runs at a time. The work itself executes on the shared
bounded worker pool, and cancelling the caller's context stops the restore
subprocess.

Results are Operation values. They are built once, when the operation ends,
and hand out copies of their details and stage trail.
*/
package recovery
