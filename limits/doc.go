// Package limits provides centralized size constants and validation functions
// for the filepeer wire protocol. Every component that frames, parses or
// streams protocol data takes its limits from here so the listener and the
// initiator agree on them.
//
// # Size Hierarchy
//
//   - MaxArgumentLength (65535 bytes): the largest command or argument string
//     that fits the 16-bit length prefix used on the wire.
//
//   - MaxNameLength (255 bytes): the largest single path component accepted
//     for a stored file name, matching typical filesystem limits.
//
//   - DefaultBufferSize (4096 bytes): the copy buffer used when streaming file
//     payloads in either direction.
//
// # Validation Functions
//
//	if err := limits.ValidateArgument(name); err != nil {
//	    // ErrArgumentEmpty, ErrArgumentTooLong or ErrArgumentEncoding
//	}
//
// Errors carry the actual and maximum sizes and can be classified with
// errors.Is against the exported sentinels.
package limits
