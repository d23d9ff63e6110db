/*
Package engine implements the card emulation session: the transaction
monitor that watches the live block table for reader writes, the
policy modes that decide what happens to a detected charge, UID
rotation, passive nonce capture for offline key cracking, and the
session lifecycle that ties them to a radio listener.

The engine never talks to a radio itself. It drives a Listener — any
implementation of start/live-table/stop over a real emulation stack —
and watches the live card image the listener mutates. Charges are not
intercepted; they are observed after the fact by diffing the live
table against a per-block baseline every poll tick, and undone in
place when the active mode calls for it. The reader always sees its
write acknowledged; a rolled-back charge only surfaces as "the next
read shows the old balance".

Three modes:

	Hack         block balance decreases: restore the persisted bytes
	             in place, count the blocked write, rotate the UID so
	             the next tap reads as a fresh card
	Legit        accept everything into the persisted layer
	Interrogate  change nothing, tally access patterns for a report

Credits (balance increases) are accepted in Hack and Legit; the reader
verified them against its own backend before writing. Interrogate
never mutates the persisted layer in any direction.

The monitor tick and the nonce-capture path are the two time-critical
surfaces: ticks run on one goroutine with no allocation and no I/O;
Observe runs on the listener's callback goroutine and touches only the
fixed-size nonce pool. Everything that blocks — nonce export, the CSV
ledger, history — is deferred to session teardown.
*/
package engine
