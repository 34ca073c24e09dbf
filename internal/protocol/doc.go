// Package protocol defines the hub's WebSocket frames.
//
// Every frame is a JSON object with a "type" field. Decode reads the type
// from a minimal envelope first and then unmarshals the concrete inbound
// message. Outbound frames are built with the New* constructors so the type
// field is always set.
package protocol
