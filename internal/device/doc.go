// Package device implements the local HTTP/JSON point protocol spoken by
// Climatix-class heat-pump controllers.
//
// The controller exposes point values ("OA" addresses) through a single
// CGI-style endpoint with several firmware-dependent quirks this package
// hides from callers:
//
//   - the endpoint path casing varies between firmwares, so every call is
//     retried across an ordered list of candidate paths
//   - response bodies are not reliably UTF-8; Latin-1 is used as a fallback
//   - long query strings make some firmwares drop trailing parameters, so
//     batched reads are split into bounded chunks
//   - protocol parameters are order-sensitive (function code first, fixed
//     flags last)
//
// The main components are:
//
//   - [Connection]: immutable connection parameters for one controller
//   - [Client]: batched point reads and single-point writes
//   - [ReadWriter]: the read/write surface consumed by higher layers
//   - [NotifyWrites]: write-success notification wrapper
//
// Errors are reported through the [TransportError], [DecodeError],
// [DeviceError] and [ConfigurationError] types; the first three are retried
// across candidate paths within a single call and never across calls.
package device
