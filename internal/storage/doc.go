// Package storage provides the lock entries behind single-node execution.
//
// Every backend implements Locker with atomic set-if-absent semantics plus a
// safety TTL, so an entry left behind by a crashed node expires passively:
//   - "memory": in-process map (single node, tests)
//   - "file":   one file per key in a directory shared by the nodes
//   - "sqlite": a table in an SQLite database file
//   - "redis":  SET NX PX with an owner-checked delete
//   - "nats":   JetStream KV Create with revision-checked takeover of expired entries
package storage
