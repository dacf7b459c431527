// Package broadcast fans timer state out to subscriber sockets.
//
// Subscribers are partitioned by tenant key: a read-mostly map locates the
// tenant's registry, and each registry has its own mutex. Publishing copies
// the matching subscribers out and hands every one of them the encoded
// message through a bounded per-connection buffer, so a slow socket is
// evicted instead of stalling the publisher.
package broadcast
