/*
Package graph defines the dataflow operator graph: nodes, edges,
operator kinds, domains, and the replay-path side table.

A Graph is directed and mostly acyclic with a single synthetic source.
Cycles never arise structurally; the reader-to-replay-source
back-reference that would otherwise create one is modeled as a side
table (ReplayPaths: Tag -> []NodeID) so nodes only ever store an
integer Tag, never a pointer back to the source.

Operator kinds are a closed, small set, so OperatorKind is a
tagged-variant struct (a Kind discriminant plus per-kind config
fields) rather than an interface with one implementation per kind.
This lets the domain executor switch on Kind directly instead of
going through a vtable, which matters because replay-mode behavior
differs per kind and needs to be checked on every packet.
*/
package graph
