/*
Package eventbus implements orbital's event bus: a single publisher-side
queue fanned out to per-subscriber buffered channels, a bounded ring-buffer
history for late joiners, and an overflow counter per subscriber instead of
a blocking send. Subscribers may filter with a predicate so a webhook
pusher only wakes for the events it forwards.
*/
package eventbus
