// Package controller is FlowBase's single authoritative control plane
// (spec §4.7, §9): it owns the operator graph, the domain→worker
// placement, replay paths, and per-Base/Reader replication offsets,
// and exposes extend_recipe, table, and view as the spec's external
// interface names them (spec §6). Per spec §9's design note ("the
// controller is conceptually singular but should be a plain value
// owned by one task; all mutation goes through a command channel"),
// every graph-mutating operation is serialized through an internal
// command channel drained by a single run-loop goroutine, mirroring
// pkg/domain.Domain's for-select-stopCh idiom; TableHandle and
// ViewHandle bypass this loop entirely and dispatch straight through
// the router to the node's owning domain, since spec §5 describes each
// read/write as "a batched message to the owning domain", not a
// controller-mediated one.
package controller
