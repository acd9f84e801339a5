package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
)

const sendCommandMethod = "/smartgarden.telemetry.CommandService/SendCommand"

// CommandServiceServer riceve comandi dal layer applicativo via gRPC.
// Request: {userId, sensorId, command, parameters?}. Response: {accepted, topic}.
type CommandServiceServer interface {
	SendCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var CommandServiceDesc = grpc.ServiceDesc{
	ServiceName: "smartgarden.telemetry.CommandService",
	HandlerType: (*CommandServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendCommand", Handler: sendCommandHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterCommandServiceServer(s grpc.ServiceRegistrar, srv CommandServiceServer) {
	s.RegisterService(&CommandServiceDesc, srv)
}

func sendCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServiceServer).SendCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendCommandMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommandServiceServer).SendCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CommandClient è il client del CommandService.
type CommandClient struct {
	cc grpc.ClientConnInterface
}

func NewCommandClient(cc grpc.ClientConnInterface) *CommandClient {
	return &CommandClient{cc: cc}
}

func (c *CommandClient) SendCommand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, sendCommandMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommandServer applica lo stesso controllo di proprietà dell'API HTTP.
type CommandServer struct {
	identities IdentityLookup
	commands   CommandSender
	logger     *slog.Logger
}

func NewCommandServer(identities IdentityLookup, commands CommandSender, logger *slog.Logger) *CommandServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandServer{identities: identities, commands: commands, logger: logger.With("component", "grpc")}
}

func (s *CommandServer) SendCommand(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	user := strings.TrimSpace(fields["userId"].GetStringValue())
	sensor := strings.TrimSpace(fields["sensorId"].GetStringValue())
	if user == "" {
		return nil, status.Error(codes.Unauthenticated, "userId is required")
	}
	if sensor == "" {
		return nil, status.Error(codes.InvalidArgument, "sensorId is required")
	}

	ident, err := s.identities.FindByDeviceIDAndOwner(ctx, sensor, user)
	if err != nil {
		return nil, s.toStatus(err)
	}
	cmd := model.Command{Name: fields["command"].GetStringValue()}
	if p := fields["parameters"].GetStructValue(); p != nil {
		cmd.Parameters = p.AsMap()
	}
	topic, err := s.commands.Dispatch(ctx, ident.OwnerID, ident.DeviceID, cmd)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"accepted": true, "topic": topic})
}

func (s *CommandServer) toStatus(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrPublishFailed):
		return status.Error(codes.Unavailable, err.Error())
	}
	s.logger.Error("send command failed", "err", err)
	return status.Error(codes.Internal, err.Error())
}
