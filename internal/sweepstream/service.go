// Package sweepstream serves the frame history over a server-streaming gRPC
// method so that a remote viewer can follow the sweep.
//
// The service is described by hand over the protobuf well-known types:
// the request is google.protobuf.Empty and every response is a
// google.protobuf.Struct holding one frame (see EncodeFrame).
package sweepstream

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "rangesweep.v1.SweepStream"
	// StreamFramesMethod is the full method path of the frame stream.
	StreamFramesMethod = "/" + ServiceName + "/StreamFrames"
)

// FrameStreamer is the server side of the SweepStream service.
type FrameStreamer interface {
	StreamFrames(req *emptypb.Empty, stream grpc.ServerStream) error
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FrameStreamer).StreamFrames(req, stream)
}

// ServiceDesc describes the SweepStream service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameStreamer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "rangesweep/v1/sweepstream",
}

// RegisterService registers the frame streamer with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv FrameStreamer) {
	s.RegisterService(&ServiceDesc, srv)
}
