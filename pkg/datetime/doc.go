// Package datetime provides ISO 8601 duration parsing and formatting plus a
// Clock abstraction with "pretend now" support for the what-if simulator.
package datetime
