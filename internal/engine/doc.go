// Package engine is an in-process host for durable handlers. It routes
// invocations to registered service definitions, fences handlers per object
// key, records durable actions in a journal so re-invocations replay instead
// of re-executing, and tracks every invocation in the store.
package engine
