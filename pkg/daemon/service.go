package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	demotev1 "github.com/jamesainslie/demote/pkg/api/demote/v1"
	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/daemon/store"
)

// DefaultHistoryLimit is used when a History request does not set one.
const DefaultHistoryLimit = 50

// Info is the static part of the status reply.
type Info struct {
	Version  string
	Priority string
	Elevated bool
	Started  time.Time
}

// Service implements the demote.v1.Monitor gRPC service.
type Service struct {
	demotev1.UnimplementedMonitorServer

	monitor  *monitor.Monitor
	history  *store.Store
	info     Info
	shutdown func()
}

// NewService serves mon. history may be nil when the journal is disabled.
// shutdown is called, on its own goroutine, when a client asks the daemon
// to stop.
func NewService(mon *monitor.Monitor, history *store.Store, info Info, shutdown func()) *Service {
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	return &Service{
		monitor:  mon,
		history:  history,
		info:     info,
		shutdown: shutdown,
	}
}

// GetStatus returns the daemon status and the latest result per target.
func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := demotev1.Status{
		PID:         os.Getpid(),
		Version:     s.info.Version,
		StartedAt:   s.info.Started,
		State:       s.monitor.State().String(),
		Interval:    s.monitor.PollInterval(),
		Priority:    s.info.Priority,
		Targets:     s.monitor.Targets(),
		Ticks:       s.monitor.Ticks(),
		Subscribers: s.monitor.Broadcaster().SubscriberCount(),
		Elevated:    s.info.Elevated,
		History:     s.history != nil,
		Results:     s.monitor.Latest(),
	}
	return encode(st)
}

// Refresh checks every target immediately.
func (s *Service) Refresh(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	log.Debug("manual refresh requested")
	return encode(demotev1.RefreshResult{Results: s.monitor.Refresh()})
}

// SetInterval changes the poll interval.
func (s *Service) SetInterval(_ context.Context, in *wrapperspb.Int32Value) (*emptypb.Empty, error) {
	if err := s.monitor.SetPollInterval(int(in.GetValue())); err != nil {
		if errors.Is(err, monitor.ErrInvalidInterval) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Watch streams status events until the client goes away or the daemon
// shuts down.
func (s *Service) Watch(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req demotev1.WatchRequest
	if err := demotev1.Decode(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	sub := s.monitor.Subscribe(req.Names...)
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.monitor.Unsubscribe(sub.ID)

	log.Debug("watch started", "subscriber", sub.ID, "names", req.Names)
	defer func() {
		log.Debug("watch ended", "subscriber", sub.ID, "dropped", sub.Dropped())
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			msg, err := encode(ev)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// History returns journal records, newest first.
func (s *Service) History(_ context.Context, in *wrapperspb.Int32Value) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "history is disabled")
	}
	limit := int(in.GetValue())
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := s.history.Recent(limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading history: %v", err)
	}
	return encode(demotev1.HistoryResult{Records: records})
}

// Shutdown stops the daemon after the reply is sent.
func (s *Service) Shutdown(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	log.Info("shutdown requested")
	if s.shutdown != nil {
		go s.shutdown()
	}
	return &emptypb.Empty{}, nil
}

func encode(v any) (*structpb.Struct, error) {
	msg, err := demotev1.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}
