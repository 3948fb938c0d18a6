// Package durable defines the capability interface that service handlers use to
// reach the durable-execution runtime: keyed state scoped to an object identity,
// memoized actions recorded in an invocation journal, and journaled sleeps.
//
// Handlers depend only on the interfaces declared here, so the runtime backing
// them (the in-process engine, or any other host) can be swapped without
// touching handler code.
package durable
