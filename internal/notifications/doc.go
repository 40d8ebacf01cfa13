// Package notifications pushes operator alerts to ntfy.
//
// Workflow code publishes an Event with a small Payload; the service formats
// the title, message, and tags, and drops events the configuration has
// switched off. With no ntfy topic configured a no-op service is returned.
package notifications
