/*
Package opstate implements per-operator state from spec §4.2: zero or
more indices keyed by distinct column tuples, each either full (every
row ever inserted is present) or partial (rows are stored only for
keys that have been filled; an unfilled lookup returns NeedsReplay).

An operator's State is owned exclusively by the domain that runs it
and is never touched from another goroutine, so none of the types here
take locks — the domain executor's run-to-completion loop is the only
caller (spec §5 "Operator state: owned exclusively by its domain").
*/
package opstate
