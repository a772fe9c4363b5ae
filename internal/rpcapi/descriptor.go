package rpcapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Protobuf descriptors of the two services. They are built field for field
// from proto/gatekeeper/v1/auth.proto and proto/user_stats/user_stats.proto;
// a change to either .proto file has to be repeated here.
var (
	AuthFile      = mustFile(authFileProto())
	UserStatsFile = mustFile(userStatsFileProto())
)

func mustFile(fd *descriptorpb.FileDescriptorProto) protoreflect.FileDescriptor {
	f, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("rpcapi: invalid descriptor %s: %v", fd.GetName(), err))
	}
	return f
}

const (
	authPackage      = "gatekeeper.v1"
	userStatsPackage = "user_stats"
	timestampType    = ".google.protobuf.Timestamp"

	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func authFileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("gatekeeper/v1/auth.proto"),
		Package:    proto.String(authPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{timestamppb.File_google_protobuf_timestamp_proto.Path()},
		MessageType: []*descriptorpb.DescriptorProto{
			message("RegisterRequest",
				field("email", 1, typeString),
				field("password", 2, typeString),
				field("full_name", 3, typeString),
			),
			message("LoginRequest",
				field("email", 1, typeString),
				field("password", 2, typeString),
			),
			message("RefreshRequest", field("refresh_token", 1, typeString)),
			message("LogoutRequest", field("refresh_token", 1, typeString)),
			message("LogoutResponse"),
			message("PingRequest"),
			message("PingResponse", field("status", 1, typeString)),
			message("User",
				field("id", 1, typeString),
				field("email", 2, typeString),
				field("full_name", 3, typeString),
				repeated(field("roles", 4, typeString)),
				ofType(field("created_at", 5, typeMessage), timestampType),
				ofType(field("last_login_at", 6, typeMessage), timestampType),
			),
			message("AuthResponse",
				ofType(field("user", 1, typeMessage), "."+authPackage+".User"),
				field("access_token", 2, typeString),
				field("refresh_token", 3, typeString),
				field("token_type", 4, typeString),
				field("expires_in", 5, typeInt64),
				field("refresh_token_id", 6, typeString),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("AuthService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method(authPackage, "Register", "RegisterRequest", "AuthResponse"),
				method(authPackage, "Login", "LoginRequest", "AuthResponse"),
				method(authPackage, "Refresh", "RefreshRequest", "AuthResponse"),
				method(authPackage, "Logout", "LogoutRequest", "LogoutResponse"),
				method(authPackage, "Ping", "PingRequest", "PingResponse"),
			},
		}},
	}
}

func userStatsFileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("user_stats/user_stats.proto"),
		Package: proto.String(userStatsPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("GetCurrentUserStatsRequest"),
			message("GetCurrentUserStatsResponse",
				field("user_id", 1, typeString),
				field("email", 2, typeString),
				field("full_name", 3, typeString),
				optional(field("preferences", 4, typeString)),
				field("created_at", 5, typeString),
				field("updated_at", 6, typeString),
				field("refresh_token_count", 7, typeInt64),
				optional(field("last_login", 8, typeString)),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("UserStatsService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method(userStatsPackage, "GetCurrentUserStats", "GetCurrentUserStatsRequest", "GetCurrentUserStatsResponse"),
			},
		}},
	}
}

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func ofType(f *descriptorpb.FieldDescriptorProto, typeName string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = proto.String(typeName)
	return f
}

// optional marks f as a proto3 optional field; message adds the synthetic
// oneof that carries its presence.
func optional(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Proto3Optional = proto.Bool(true)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	m := &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	for _, f := range fields {
		if f.GetProto3Optional() {
			f.OneofIndex = proto.Int32(int32(len(m.OneofDecl)))
			m.OneofDecl = append(m.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String("_" + f.GetName())})
		}
	}
	return m
}

func method(pkg, name, in, out string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + pkg + "." + in),
		OutputType: proto.String("." + pkg + "." + out),
	}
}
