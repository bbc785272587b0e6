package telemetry

import (
	"io"

	"github.com/google/uuid"
)

// Server implements the TelemetryServer interface.
type Server struct {
	observer *Observer
}

// NewServer constructs a server.
func NewServer(observer *Observer) *Server {
	return &Server{observer: observer}
}

// StreamPosition ingests driver positions and updates the observer.
func (s *Server) StreamPosition(stream Telemetry_StreamPositionServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		driverID, err := uuid.Parse(msg.DriverId)
		if err != nil {
			continue
		}
		s.observer.Update(stream.Context(), driverID, msg.Lat, msg.Lng, msg.SpeedKph)
	}
}
