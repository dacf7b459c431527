// Package timer holds the per-tenant countdown state machine.
//
// Each tenant's state is guarded by its own mutex; operations on different
// tenants never contend. Every operation returns a snapshot copied out under
// the lock so callers can publish without holding it.
package timer
