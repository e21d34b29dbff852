// Package fault classifies session failures.
//
// Every failure raised while driving a controller session (transport errors,
// protocol violations, timeouts) is funneled through Classify, which maps it
// to one of a fixed set of categories:
//
//   - Timeout: the controller did not answer in time
//   - PermissionDenied: the radio is missing or access was not granted
//   - DeviceNotFound: the scan finished without a matching controller
//   - ConnectionLost: the link dropped or a GATT operation failed
//   - ProtocolRejection: bad key, refusal (C8) or unknown data
//   - Generic: anything else
//
// Only Timeout, DeviceNotFound and ConnectionLost are retryable. Retrying a
// rejected authentication risks a firmware-side lockout, so ProtocolRejection
// always ends the session.
package fault
