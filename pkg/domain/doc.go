/*
Package domain implements the domain executor from spec §4.4: a
single-threaded run-to-completion event loop that owns a subset of
operators and dispatches packets to them from a priority queue.

A Domain never re-enters an operator concurrently — Run processes
exactly one packet at a time on the goroutine that called it, matching
spec §5's "each domain is single-threaded, cooperative within itself."
Submit is the only method safe to call from other goroutines; it hands
the packet to an internal channel that Run drains into the priority
queue.
*/
package domain
