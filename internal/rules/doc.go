// Package rules converts typed notifications into signed time deltas.
//
// Evaluate is a pure function of its inputs: it performs no I/O, keeps no
// state and never mutates the config or event it is given. Events the
// config does not enable, or payloads it cannot interpret, yield no effect
// instead of an error.
package rules
