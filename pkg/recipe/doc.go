// Package recipe is the embedded DDL/SELECT compiler named in spec §6
// and supplemented feature 5 of SPEC_FULL.md: a small recursive-descent
// parser, grounded in nom-sql/create.rs's key-clause handling
// (primary, unique, foreign, check) but reimplemented from scratch, that
// turns CREATE TABLE / CREATE VIEW / CREATE CACHE text into a
// graph.Migration the controller can apply. It covers exactly the
// grammar subset spec §6 names — not the original Noria/ReadySet's full
// MIR/query-graph optimizer, which stays out of scope.
package recipe
