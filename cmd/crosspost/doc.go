// Command crosspost is the operator CLI for the crosspost daemon. It submits
// content, inspects and cancels runs, manages the outbox, validates drafts
// against platform rules, and controls the daemon process.
package main
