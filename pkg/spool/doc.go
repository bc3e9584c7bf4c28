// Package spool watches a hand-off directory for planned transition graphs
// and feeds them to the engine, unlinking each file as it is picked up.
package spool
