// Package serialization encodes values behind a one-byte format marker so readers can tell
// JSON from protobuf without out-of-band metadata.
package serialization

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Format is the serialization format recorded in the first byte of an encoded value
type Format byte

const (
	// FormatJSON marks a JSON body
	FormatJSON Format = 0x00

	// FormatProtobuf marks a protobuf body
	FormatProtobuf Format = 0x01
)

// String returns the format name
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProtobuf:
		return "protobuf"
	default:
		return fmt.Sprintf("format(0x%02X)", byte(f))
	}
}

var (
	// ErrUnknownFormat is returned when the format marker is not recognized
	ErrUnknownFormat = errors.New("unknown payload format")

	// ErrMarshalFailed is returned when encoding fails
	ErrMarshalFailed = errors.New("failed to marshal payload")

	// ErrUnmarshalFailed is returned when decoding fails
	ErrUnmarshalFailed = errors.New("failed to unmarshal payload")
)

// Serializer encodes values in its default format and decodes any known format
type Serializer struct {
	DefaultFormat Format
}

// NewSerializer creates a serializer with the given default format
func NewSerializer(defaultFormat Format) *Serializer {
	return &Serializer{DefaultFormat: defaultFormat}
}

// Marshal encodes v in the default format
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	return s.MarshalWithFormat(v, s.DefaultFormat)
}

// MarshalWithFormat encodes v in the given format. Protobuf requires a proto.Message.
func (s *Serializer) MarshalWithFormat(v interface{}, format Format) ([]byte, error) {
	var body []byte
	var err error

	switch format {
	case FormatJSON:
		body, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w (json): %v", ErrMarshalFailed, err)
		}

	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("%w: %T does not implement proto.Message", ErrMarshalFailed, v)
		}
		body, err = proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w (protobuf): %v", ErrMarshalFailed, err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	out := make([]byte, len(body)+1)
	out[0] = byte(format)
	copy(out[1:], body)
	return out, nil
}

// Unmarshal decodes data into v using the format recorded in its first byte
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	format, body, err := s.DetectFormat(data)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("%w (json): %v", ErrUnmarshalFailed, err)
		}
		return nil

	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return fmt.Errorf("%w: %T does not implement proto.Message", ErrUnmarshalFailed, v)
		}
		if err := proto.Unmarshal(body, msg); err != nil {
			return fmt.Errorf("%w (protobuf): %v", ErrUnmarshalFailed, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// DetectFormat splits data into its format marker and body
func (s *Serializer) DetectFormat(data []byte) (Format, []byte, error) {
	if len(data) == 0 {
		return FormatJSON, nil, fmt.Errorf("%w: empty payload", ErrUnmarshalFailed)
	}

	format := Format(data[0])
	switch format {
	case FormatJSON:
		if len(data) < 2 {
			return format, nil, fmt.Errorf("%w: payload too short", ErrUnmarshalFailed)
		}
		return format, data[1:], nil
	case FormatProtobuf:
		// An empty protobuf message encodes to zero bytes
		return format, data[1:], nil
	default:
		return format, nil, fmt.Errorf("%w: marker byte 0x%02X", ErrUnknownFormat, data[0])
	}
}
