// Package twitch ingests EventSub notifications over the websocket transport
// and pushes compact state summaries to the Extensions pub/sub bridge.
//
// One Session runs per broadcaster. Its read loop only decodes frames and
// hands notifications to a bounded queue; a single consumer per session
// drains the queue into the mutation pipeline, so a slow downstream cannot
// stall the socket or reorder one broadcaster's notifications.
package twitch
