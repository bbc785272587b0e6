package telemetry

import "google.golang.org/grpc"

// DriverPosition is one streamed position report.
type DriverPosition struct {
	DriverId string
	Lat      float64
	Lng      float64
	SpeedKph float64
	Ts       int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// TelemetryServer defines the gRPC contract.
type TelemetryServer interface {
	StreamPosition(Telemetry_StreamPositionServer) error
}

// RegisterTelemetryServer registers the service implementation.
func RegisterTelemetryServer(s *grpc.Server, srv TelemetryServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "telemetry.Telemetry",
		HandlerType: (*TelemetryServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamPosition",
			Handler:       _Telemetry_StreamPosition_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Telemetry_StreamPositionServer defines the bidi stream interface.
type Telemetry_StreamPositionServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DriverPosition, error)
}

func _Telemetry_StreamPosition_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TelemetryServer).StreamPosition(&telemetryStreamServer{ServerStream: stream})
}

type telemetryStreamServer struct {
	grpc.ServerStream
}

func (s *telemetryStreamServer) SendAndClose(*Ack) error { return nil }

func (s *telemetryStreamServer) Recv() (*DriverPosition, error) {
	msg := new(DriverPosition)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
