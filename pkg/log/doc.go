/*
Package log provides structured logging for FlowBase using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level for production
debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance                         │          │
	│  │  - initialized via log.Init()               │          │
	│  │  - thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Component Loggers                 │          │
	│  │  - WithComponent("domain")                  │          │
	│  │  - WithDomainID(3)                          │          │
	│  │  - WithTag(tag)                             │          │
	│  │  - WithNodeID(id)                           │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

Every subsystem constructor takes a zerolog.Logger rather than reaching
for the package global, so tests can inject a buffered logger and
assert on its output.
*/
package log
