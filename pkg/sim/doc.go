// Package sim provides synthetic stand-ins for the cluster services the
// transition engine talks to: a remote executor, a fencing subsystem and a
// configuration store. They back the what-if simulator and self-contained
// runs.
package sim
