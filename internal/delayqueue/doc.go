// Package delayqueue is a durable FIFO queue with per-job release delays,
// stored in SQLite.
//
// Each named queue owns a table dq_<name> and an archive table
// dq_<name>_archive. The contract is three operations:
//
//	id, err := q.Push(ctx, payload, 10*time.Minute) // durable before return
//	msg, err := q.Lease(ctx, 30*time.Second)        // nil when nothing is ready
//	ok, err := q.Archive(ctx, msg.ID)               // false if already gone
//
// A leased job that is not archived before its visibility timeout expires
// is leased again, so consumers see each job at least once. Consumer wraps
// the lease/handle/archive loop.
package delayqueue
