// Package message defines the events the bridge moves from the broker into
// the twin store.
//
// # Topics
//
// Sensors publish under a fixed hierarchy rooted at a configurable prefix
// (default "dhsiled"):
//
//	<root>/grids/<gridId>/status
//	<root>/grids/<gridId>/alerts
//	<root>/grids/<gridId>/health
//	<root>/system/<kind>
//
// On NATS the separators are dots. ParseTopic accepts either form. The last
// segment selects the event kind; anything other than status, alerts or
// health is KindUnclassified and still delivered.
//
// # Payloads
//
// Decode checks the payload against a per-kind JSON schema and decodes it
// into StatusPayload, AlertPayload or HealthPayload. Fields the sensor did
// not send stay nil so the synchronizer can tell "absent" from "zero".
// Anything that fails is reported as errors.ErrParsingFailed or
// errors.ErrSchemaFailed and must be dropped by the caller.
package message
