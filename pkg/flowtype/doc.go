/*
Package flowtype defines FlowBase's core data model: the tagged-union
SQL scalar Value, the signed Record tuple, the Delta batch that flows
between operators, column metadata that survives schema evolution, and
the opaque, monotone ReplicationOffset token used for CDC resumption.

These types are intentionally free of any dependency on the dataflow
graph, domain executor, or storage packages — every other package in
this module is built on top of flowtype, never the other way around.
*/
package flowtype
