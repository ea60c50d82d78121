package proto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"VisionCount/artifact"
	iface "VisionCount/interface"
	"VisionCount/logger"
	"VisionCount/monitor"
	"VisionCount/processor"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxMessageBytes lifts gRPC's 4 MB default so full-size photos and their
// annotated PNG fit in one message.
const MaxMessageBytes = 64 << 20

// Model is what the RPC surface needs from the loaded detector.
type Model interface {
	processor.Detector
	Names() []string
	Info() iface.EngineInfo
}

type Server struct {
	model Model
	proc  *processor.Processor
}

func NewServer(model Model) *Server {
	return &Server{model: model, proc: processor.New(model)}
}

func (s *Server) Count(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	log := logger.Log().With(zap.String("requestID", uuid.NewString()))
	img, err := processor.DecodeImage(req.GetValue())
	defer img.Close()
	if err != nil {
		log.Warn("undecodable image", zap.Int("bytes", len(req.GetValue())))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	annotated, counts, err := s.proc.Annotate(img)
	if err != nil {
		log.Error("inference failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	took := time.Since(start)

	encoded, err := artifact.EncodePNG(annotated)
	if err != nil {
		log.Error("encode failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	monitor.ObserveCounts(monitor.TransportGRPC, counts.Map(), took)

	countFields := make(map[string]any, counts.Len())
	for _, lc := range counts.List() {
		countFields[lc.Label] = lc.Count
	}
	resp, err := structpb.NewStruct(map[string]any{
		"counts": countFields,
		"total":  counts.Total(),
		"image":  base64.StdEncoding.EncodeToString(encoded),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	log.Info("count served", zap.Int("detections", counts.Total()), zap.Any("counts", counts.List()), zap.Duration("took", took))
	return resp, nil
}

func (s *Server) Labels(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names := s.model.Names()
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = n
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return list, nil
}

func (s *Server) Engine(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info := s.model.Info()
	resp, err := structpb.NewStruct(map[string]any{
		"backend":    info.Backend,
		"modelPath":  info.ModelPath,
		"endpoint":   info.Endpoint,
		"classes":    info.Classes,
		"confidence": float64(info.Conf),
		"iou":        float64(info.Iou),
		"inputSize":  info.InputSize,
		"useGPU":     info.UseGPU,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// DialOptions are the client options matching the server's message limits.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageBytes),
			grpc.MaxCallSendMsgSize(MaxMessageBytes),
		),
	}
}

// StartGRPCServer listens on port and serves in the background. Port 0
// picks a free port; the bound address is returned.
func StartGRPCServer(port int, srv CountServiceServer) (*grpc.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	s := grpc.NewServer(grpc.MaxRecvMsgSize(MaxMessageBytes), grpc.MaxSendMsgSize(MaxMessageBytes))
	RegisterCountServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, lis.Addr(), nil
}
