/*
Package router implements FlowBase's inter-domain packet transport
(spec §4.5): the piece that sits between pkg/domain's per-domain
executors and turns a logical edge between two nodes into either a
same-process channel send or a cross-worker gRPC call.

A Router is built from a Placement (which worker owns which domain)
and a table of local domain.Domain instances this worker is currently
running. Forward looks up the destination node's owning domain:

  - if that domain is one of this worker's own, the packet is handed
    directly to that Domain's Submit — no network hop, no codec;
  - otherwise the packet is marshaled over pkg/clusterrpc to the
    worker that owns it.

Sharder/Desharder nodes do the hash-repartition and FIFO-preserving
merge themselves inside pkg/domain (they are ordinary nodes owned by a
domain like any operator); this package only ever decides "local or
remote" for a single already-addressed packet.
*/
package router
