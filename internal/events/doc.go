// Package events carries job lifecycle notifications between the workers and
// their listeners.
//
// Local is an in-process bus used when no broker is configured. NATS publishes
// the same events on "<prefix>.<type>" subjects so other processes can follow
// the pipeline. Delivery is best effort in both cases; the orchestrator also
// sweeps the store for anything it missed.
package events
