package envelope

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by Decode for nil or zero-length input. It means
	// "no value" and is distinct from every structural decode failure.
	ErrEmpty = errors.New("envelope: no value")

	ErrBadMagic                 = errors.New("envelope: bad magic byte")
	ErrCorruptEnvelope          = errors.New("envelope: corrupt envelope")
	ErrUnsupportedSchemaVersion = errors.New("envelope: unsupported schema version")
	ErrUnexpectedPayloadType    = errors.New("envelope: unexpected payload type")
	ErrEncoding                 = errors.New("envelope: encoding failed")
)

// VersionError ties a codec failure to the schema version that was being
// read or written. errors.Is matches both Kind and the underlying cause.
type VersionError struct {
	Version uint8
	Kind    error
	Err     error
}

func (e *VersionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (schema v%d)", e.Kind, e.Version)
	}
	return fmt.Sprintf("%v (schema v%d): %v", e.Kind, e.Version, e.Err)
}

func (e *VersionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func versionErr(v uint8, kind, err error) error {
	return &VersionError{Version: v, Kind: kind, Err: err}
}
