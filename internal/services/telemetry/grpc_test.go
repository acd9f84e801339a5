package telemetry

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

func newCommandClient(t *testing.T, conn *fakeConn) *CommandClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterCommandServiceServer(srv, NewCommandServer(newFakeRegistry(sensorD1()), NewDispatcher(NewRouter("root"), conn, nil, discard), discard))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewCommandClient(cc)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPC_SendCommand(t *testing.T) {
	conn := newFakeConn()
	client := newCommandClient(t, conn)

	out, err := client.SendCommand(context.Background(), mustStruct(t, map[string]any{
		"userId":     "u1",
		"sensorId":   "d1",
		"command":    "set_interval",
		"parameters": map[string]any{"seconds": 30},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"accepted": true, "topic": "root/u1/d1/command"}, out.AsMap())

	pubs := conn.publishes()
	require.Len(t, pubs, 1)
	assert.Contains(t, string(pubs[0].payload), `"parameters":{"seconds":30}`)
}

func TestGRPC_SendCommandErrors(t *testing.T) {
	conn := newFakeConn()
	client := newCommandClient(t, conn)

	cases := []struct {
		name string
		in   map[string]any
		want codes.Code
	}{
		{"no user", map[string]any{"sensorId": "d1", "command": "ping"}, codes.Unauthenticated},
		{"no sensor", map[string]any{"userId": "u1", "command": "ping"}, codes.InvalidArgument},
		{"not owner", map[string]any{"userId": "u2", "sensorId": "d1", "command": "ping"}, codes.NotFound},
		{"no command", map[string]any{"userId": "u1", "sensorId": "d1"}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SendCommand(context.Background(), mustStruct(t, tc.in))
			assert.Equal(t, tc.want, status.Code(err))
		})
	}

	conn.err = mqttclient.ErrNotConnected
	_, err := client.SendCommand(context.Background(), mustStruct(t, map[string]any{"userId": "u1", "sensorId": "d1", "command": "ping"}))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Empty(t, conn.publishes())
}
