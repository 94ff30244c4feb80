/*
Package expr implements the scalar expression language used by
Project's computed columns and Filter's predicate: arithmetic,
comparisons, three-valued boolean logic, CASE, type coercions, and the
SQL built-ins named in spec §4.3 (IFNULL, CONVERT_TZ, DAYOFWEEK, MONTH,
TIMEDIFF, ADDTIME, ROUND, LIKE/ILIKE with a compiled pattern cache).

Expressions are evaluated against one input Record at a time; they
never look at operator state, so they can be shared read-only across
domain shards.
*/
package expr
