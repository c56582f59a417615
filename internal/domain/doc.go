// Package domain contains the core entities and value objects of the
// daemon: job descriptors and finished jobs, runner settings, identifier
// validation, and the error types the control API translates into wire
// messages. It is independent of storage, transport, and process handling.
package domain
