package server

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/utils"
)

// JobControlServiceName is the fully-qualified gRPC service name.
const JobControlServiceName = "docparser.v1.JobControl"

// JobControl is the gRPC control surface. Messages are well-known types so
// no generated stubs are needed.
type JobControl interface {
	GetStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStream) error
	IngestFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestDirectory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportInvoices(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// JobControlServer implements JobControl over the shared server deps.
type JobControlServer struct {
	Deps
	logger *slog.Logger
}

func NewJobControlServer(deps Deps, logger *slog.Logger) *JobControlServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Keepalive <= 0 {
		deps.Keepalive = events.DefaultKeepalive
	}
	return &JobControlServer{Deps: deps, logger: logger}
}

// NewGRPCServer builds a grpc.Server with the control, health and reflection services.
func NewGRPCServer(ctrl *JobControlServer, opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(JobControlServiceName, healthpb.HealthCheckResponse_SERVING)
	RegisterJobControl(gs, ctrl)
	reflection.Register(gs)
	return gs
}

func (s *JobControlServer) GetStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	jobID := strings.TrimSpace(req.GetValue())
	if jobID == "" {
		return nil, common.InvalidArgumentError("job_id is required")
	}
	st, err := s.Jobs.Status(ctx, jobID)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	out, err := utils.ToStruct(st)
	if err != nil {
		return nil, common.InternalErrorf("encode status: %v", err)
	}
	return out, nil
}

func (s *JobControlServer) Cancel(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	jobID := strings.TrimSpace(req.GetValue())
	if jobID == "" {
		return nil, common.InvalidArgumentError("job_id is required")
	}
	if err := s.Control.Cancel(ctx, jobID); err != nil {
		return nil, common.GRPCError(err)
	}
	s.logger.Info("grpc.cancel", "job_id", jobID)
	return structpb.NewStruct(map[string]any{"status": "cancel_requested", "job_id": jobID})
}

// WatchEvents streams {type, data} structs with the same sequence as the SSE endpoint.
func (s *JobControlServer) WatchEvents(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ctx := stream.Context()
	jobID := strings.TrimSpace(req.GetValue())
	if jobID == "" {
		return common.InvalidArgumentError("job_id is required")
	}
	log := common.LoggerFrom(common.WithJobID(ctx, jobID), s.logger)

	sub, subErr := s.Events.Subscribe(ctx, jobID)
	st, err := s.Jobs.Status(ctx, jobID)
	if err != nil {
		return common.GRPCError(err)
	}

	var sendErr error
	send := func(ev events.Event) bool {
		msg, err := eventStruct(ev)
		if err != nil {
			sendErr = common.InternalErrorf("encode %s event: %v", ev.Type, err)
			return false
		}
		if err := stream.SendMsg(msg); err != nil {
			log.Debug("grpc.watch.send_failed", "error", err)
			sendErr = err
			return false
		}
		return true
	}

	if send(events.New(events.Initial{
		Status:      st.Status,
		PageCount:   st.PageCount,
		CurrentPage: st.CurrentPage,
		DocumentID:  st.DocumentID,
	})) {
		s.follow(ctx, log, jobID, st, sub, subErr, send)
	}
	return sendErr
}

func eventStruct(ev events.Event) (*structpb.Struct, error) {
	data, err := ev.Map()
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"type": string(ev.Type), "data": data})
}

// IngestFile ingests one local PDF. Request fields: path, translate_to_english.
func (s *JobControlServer) IngestFile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	path := strings.TrimSpace(fields["path"].GetStringValue())
	if path == "" {
		s.logger.Error("ingest request missing path")
		return nil, common.InvalidArgumentError("path is required")
	}
	translate := boolField(fields, "translate_to_english", true)

	s.logger.Info("starting file ingest", "path", path, "translate", translate)
	res, err := s.Ingest.IngestPath(ctx, path, translate)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	s.logger.Info("file ingest succeeded", "document_id", res.DocumentID, "job_id", res.JobID, "deduplicated", res.Deduplicated)

	out, err := utils.ToStruct(res)
	if err != nil {
		return nil, common.InternalErrorf("encode result: %v", err)
	}
	return out, nil
}

// IngestDirectory ingests every PDF under root_path. Request fields:
// root_path, translate_to_english, skip_hidden (default true).
func (s *JobControlServer) IngestDirectory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	root := strings.TrimSpace(fields["root_path"].GetStringValue())
	if root == "" {
		s.logger.Error("ingest directory request missing root_path")
		return nil, common.InvalidArgumentError("root_path is required")
	}
	translate := boolField(fields, "translate_to_english", true)
	skipHidden := boolField(fields, "skip_hidden", true)

	s.logger.Info("starting directory ingest", "root", root, "skip_hidden", skipHidden)
	results, stats, err := s.Ingest.IngestDirectory(ctx, root, translate, skipHidden)
	if err != nil {
		return nil, common.InvalidArgumentErrorf("ingest directory: %v", err)
	}
	s.logger.Info("directory ingest completed", "root", root, "scanned", stats.Scanned, "matched", stats.Matched, "succeeded", stats.Succeeded, "deduplicated", stats.Deduplicated, "failed", stats.Failed)

	out, err := utils.ToStruct(map[string]any{"stats": stats, "results": results})
	if err != nil {
		return nil, common.InternalErrorf("encode results: %v", err)
	}
	return out, nil
}

func (s *JobControlServer) ExportInvoices(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	docID := strings.TrimSpace(req.GetValue())
	if docID == "" {
		return nil, common.InvalidArgumentError("document_id is required")
	}
	b, err := s.Export.InvoicesXLSX(ctx, docID)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "document_id", docID, "err", err)
		return nil, common.GRPCError(err)
	}
	return wrapperspb.Bytes(b), nil
}

func boolField(fields map[string]*structpb.Value, name string, def bool) bool {
	v, ok := fields[name]
	if !ok {
		return def
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return def
	}
	return v.GetBoolValue()
}

// RegisterJobControl registers srv on r.
func RegisterJobControl(r grpc.ServiceRegistrar, srv JobControl) {
	r.RegisterService(&jobControlDesc, srv)
}

var jobControlDesc = grpc.ServiceDesc{
	ServiceName: JobControlServiceName,
	HandlerType: (*JobControl)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(func(srv JobControl, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return srv.GetStatus(ctx, in)
		}, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, "GetStatus")},
		{MethodName: "Cancel", Handler: unary(func(srv JobControl, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return srv.Cancel(ctx, in)
		}, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, "Cancel")},
		{MethodName: "IngestFile", Handler: unary(func(srv JobControl, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.IngestFile(ctx, in)
		}, func() *structpb.Struct { return new(structpb.Struct) }, "IngestFile")},
		{MethodName: "IngestDirectory", Handler: unary(func(srv JobControl, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.IngestDirectory(ctx, in)
		}, func() *structpb.Struct { return new(structpb.Struct) }, "IngestDirectory")},
		{MethodName: "ExportInvoices", Handler: unary(func(srv JobControl, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return srv.ExportInvoices(ctx, in)
		}, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, "ExportInvoices")},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(wrapperspb.StringValue)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(JobControl).WatchEvents(in, stream)
			},
		},
	},
}

// unary adapts a typed method into a grpc.MethodDesc handler.
func unary[In any](call func(JobControl, context.Context, In) (any, error), newIn func() In, method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(JobControl), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + JobControlServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(JobControl), ctx, req.(In))
		}
		return interceptor(ctx, in, info, handler)
	}
}
