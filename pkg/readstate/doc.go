/*
Package readstate implements the read-state store from spec §4.1: a
double-buffered Key -> MultiSet<Row> index with an auxiliary interval
tree tracking which key ranges are known complete ("covered").

The store keeps one immutable snapshot that readers load atomically
(lock-free) and a small buffered operation log that a single writer
accumulates between Publish calls, in the spirit of the evmap/
left-right pattern Noria's backlog package is built on: readers never
see a partially-applied batch, and Publish's only reader-visible effect
is a single atomic pointer swap.
*/
package readstate
