// Package core defines the shared contracts of the listener: configuration,
// transport and inbound boundaries, the persisted token shape, the error
// taxonomy, and the local event emitter that carries webhook lifecycle and
// notification events to user callbacks.
package core
