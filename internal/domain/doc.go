// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (event.go, rules.go, timer.go, ports.go, errors.go) hold shared
// types and consumer-side interfaces. No implementation code, just contracts.
package domain
