// Package notify delivers the outbound side effects of automation:
// email and WhatsApp messages through the owner's default sender, and
// fire-and-forget internal alerts.
//
// Every message is first written to the communications outbox with status
// SENT and flipped to FAILED if the transport rejects it. Alerts run on a
// bounded worker pool so a slow sink never stalls rule evaluation.
package notify
