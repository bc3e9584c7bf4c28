// Package bridge relays events between the replicated configuration store,
// the fencing subsystem and the transition engine. Configuration diffs become
// abort requests, the engine's own result write-backs become dispatcher
// triggers once they settle, and fence requests survive fencing-subsystem
// outages through a replay queue.
package bridge
