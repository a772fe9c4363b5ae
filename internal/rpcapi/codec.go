// Package rpcapi defines the gatekeeper gRPC services. Requests and
// responses are plain Go structs; on the wire they are protobuf messages of
// the descriptors in descriptor.go, so any protobuf peer can call or serve
// them.
package rpcapi

import (
	"fmt"
	"time"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// codecName replaces the default gRPC codec. Generated messages pass
// straight through to proto.Marshal, so health checks and other stock
// services keep working in the same process.
const codecName = "proto"

// wireMessage is implemented by every gatekeeper request and response.
type wireMessage interface {
	protoDescriptor() protoreflect.MessageDescriptor
	toProto(m protoreflect.Message)
	fromProto(m protoreflect.Message) error
}

type codec struct{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case wireMessage:
		return proto.Marshal(toWire(msg))
	case proto.Message:
		return proto.Marshal(msg)
	default:
		return nil, fmt.Errorf("rpcapi: cannot marshal %T", v)
	}
}

func (codec) Unmarshal(data []byte, v any) error {
	switch msg := v.(type) {
	case wireMessage:
		m := dynamicpb.NewMessage(msg.protoDescriptor())
		if err := proto.Unmarshal(data, m); err != nil {
			return err
		}
		return msg.fromProto(m)
	case proto.Message:
		return proto.Unmarshal(data, msg)
	default:
		return fmt.Errorf("rpcapi: cannot unmarshal into %T", v)
	}
}

func init() {
	encoding.RegisterCodec(codec{})
}

func toWire(msg wireMessage) *dynamicpb.Message {
	m := dynamicpb.NewMessage(msg.protoDescriptor())
	msg.toProto(m)
	return m
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("rpcapi: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func setString(m protoreflect.Message, name protoreflect.Name, s string) {
	if s != "" {
		m.Set(fieldOf(m, name), protoreflect.ValueOfString(s))
	}
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

// optionalString reports the value of a proto3 optional field and whether
// it was sent.
func optionalString(m protoreflect.Message, name protoreflect.Name) (string, bool) {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return "", false
	}
	return m.Get(fd).String(), true
}

func setInt64(m protoreflect.Message, name protoreflect.Name, n int64) {
	if n != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(n))
	}
}

func getInt64(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

func setStrings(m protoreflect.Message, name protoreflect.Name, ss []string) {
	if len(ss) == 0 {
		return
	}
	list := m.Mutable(fieldOf(m, name)).List()
	for _, s := range ss {
		list.Append(protoreflect.ValueOfString(s))
	}
}

func getStrings(m protoreflect.Message, name protoreflect.Name) []string {
	list := m.Get(fieldOf(m, name)).List()
	if list.Len() == 0 {
		return nil
	}
	out := make([]string, list.Len())
	for i := range out {
		out[i] = list.Get(i).String()
	}
	return out
}

// setTimestamp writes t into a google.protobuf.Timestamp field. The zero
// time is left unset.
func setTimestamp(m protoreflect.Message, name protoreflect.Name, t time.Time) {
	if t.IsZero() {
		return
	}
	ts := m.Mutable(fieldOf(m, name)).Message()
	ts.Set(fieldOf(ts, "seconds"), protoreflect.ValueOfInt64(t.Unix()))
	if n := t.Nanosecond(); n != 0 {
		ts.Set(fieldOf(ts, "nanos"), protoreflect.ValueOfInt32(int32(n)))
	}
}

func getTimestamp(m protoreflect.Message, name protoreflect.Name) (time.Time, bool) {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return time.Time{}, false
	}
	ts := m.Get(fd).Message()
	sec := ts.Get(fieldOf(ts, "seconds")).Int()
	nanos := ts.Get(fieldOf(ts, "nanos")).Int()
	return time.Unix(sec, nanos).UTC(), true
}
