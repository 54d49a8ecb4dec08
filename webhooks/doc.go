// Package webhooks drives the hub subscription protocol: deduplicating and
// submitting subscribe/unsubscribe requests against the remote hub, and
// verifying the HMAC signature the hub attaches to inbound notifications.
package webhooks
