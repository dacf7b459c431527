// Package app is the application layer of the subathon timer.
//
// Service runs the notification pipeline (dedup, staleness, rule evaluation,
// timer mutation, fan-out) and the administrative commands. It restores
// tenants lazily from durable storage and hands every post-mutation snapshot
// to an asynchronous Snapshotter. Ticker republishes state for tenants with
// connected subscribers.
package app
