package sweepstream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/rangesweep/internal/scan"
)

// Subscription is the client side of an open frame stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a frame stream on conn. Cancel ctx to close it.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface) (*Subscription, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamFramesMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next frame. It returns io.EOF once the server ends
// the stream.
func (s *Subscription) Recv() (*scan.Frame, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return DecodeFrame(msg)
}
