package job

import (
	"fmt"
	"time"

	"github.com/theravoice/theravoice/internal/serialization"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultSerializer encodes job descriptors for the history log
var DefaultSerializer = serialization.NewSerializer(serialization.FormatProtobuf)

// Encode serializes the descriptor with the default serializer
func (j *Job) Encode() ([]byte, error) {
	return j.EncodeWithFormat(DefaultSerializer.DefaultFormat)
}

// EncodeWithFormat serializes the descriptor in the given format. The protobuf form is a
// google.protobuf.Struct so no generated code is needed.
func (j *Job) EncodeWithFormat(format serialization.Format) ([]byte, error) {
	if format != serialization.FormatProtobuf {
		return DefaultSerializer.MarshalWithFormat(j, format)
	}

	msg, err := structpb.NewStruct(map[string]interface{}{
		"id":          j.ID,
		"kind":        string(j.Kind),
		"description": j.Description,
		"payload":     string(j.Payload),
		"fire_at":     j.FireAt.Format(time.RFC3339Nano),
		"status":      string(j.Status),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build job struct: %w", err)
	}
	return DefaultSerializer.MarshalWithFormat(msg, serialization.FormatProtobuf)
}

// Decode parses a descriptor produced by Encode in either format
func Decode(data []byte) (*Job, error) {
	format, _, err := DefaultSerializer.DetectFormat(data)
	if err != nil {
		return nil, err
	}

	if format == serialization.FormatJSON {
		var j Job
		if err := DefaultSerializer.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		return &j, nil
	}

	msg := &structpb.Struct{}
	if err := DefaultSerializer.Unmarshal(data, msg); err != nil {
		return nil, err
	}

	field := func(name string) string {
		return msg.GetFields()[name].GetStringValue()
	}
	parseTime := func(name string) (time.Time, error) {
		raw := field(name)
		if raw == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		return t, nil
	}

	j := &Job{
		ID:          field("id"),
		Kind:        Kind(field("kind")),
		Description: field("description"),
		Status:      Status(field("status")),
	}
	if payload := field("payload"); payload != "" {
		j.Payload = []byte(payload)
	}
	if j.FireAt, err = parseTime("fire_at"); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime("created_at"); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime("updated_at"); err != nil {
		return nil, err
	}
	return j, nil
}
