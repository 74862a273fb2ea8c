package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/metrics"
	"github.com/matt-riley/cerebro/internal/middleware"
	"github.com/matt-riley/cerebro/internal/repository"
)

// SettingServiceName is the fully qualified gRPC service name.
const SettingServiceName = "cerebro.v1.SettingService"

const defaultGRPCStreamPollInterval = time.Second

// SettingServiceServer is the server API of cerebro.v1.SettingService. Every
// message is a google.protobuf.Struct:
//
//	Resolve:       {context, overrides, label} -> dehydrated config, or {label, settings}
//	ListSettings:  {page_size, page_token} -> {settings, next_page_token}
//	WatchSettings: {setting, last_event_id} -> stream of {event_id, type, setting, payload}
//
// Requests may carry a namespace name, used only when the caller is not
// bound to a namespace by its API key.
type SettingServiceServer interface {
	Resolve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchSettings(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSettingServiceServer registers srv on s.
func RegisterSettingServiceServer(s grpc.ServiceRegistrar, srv SettingServiceServer) {
	s.RegisterService(&settingServiceDesc, srv)
}

var settingServiceDesc = grpc.ServiceDesc{
	ServiceName: SettingServiceName,
	HandlerType: (*SettingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Resolve",
			Handler: unaryHandler("Resolve", func(srv SettingServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.Resolve(ctx, req)
			}),
		},
		{
			MethodName: "ListSettings",
			Handler: unaryHandler("ListSettings", func(srv SettingServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ListSettings(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSettings",
			Handler:       watchSettingsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "cerebro/v1/setting_service.proto",
}

type unaryMethod func(SettingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + SettingServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SettingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SettingServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

func watchSettingsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SettingServiceServer).WatchSettings(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// GRPCServer implements [SettingServiceServer] on top of [Service].
type GRPCServer struct {
	service            Service
	streamPollInterval time.Duration
	metrics            *metrics.Metrics
}

// GRPCOption configures a [GRPCServer].
type GRPCOption func(*GRPCServer)

// WithGRPCStreamPollInterval sets how often WatchSettings polls for events.
func WithGRPCStreamPollInterval(interval time.Duration) GRPCOption {
	return func(s *GRPCServer) {
		if interval > 0 {
			s.streamPollInterval = interval
		}
	}
}

// WithGRPCMetrics tracks active watch streams in m.
func WithGRPCMetrics(m *metrics.Metrics) GRPCOption {
	return func(s *GRPCServer) { s.metrics = m }
}

func NewGRPCServer(svc Service, opts ...GRPCOption) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	server := &GRPCServer{
		service:            svc,
		streamPollInterval: defaultGRPCStreamPollInterval,
	}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

var _ SettingServiceServer = (*GRPCServer)(nil)

func (s *GRPCServer) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	namespaceID, err := s.namespaceID(ctx, req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	fields := req.AsMap()
	evalContext, err := mapField(fields, "context")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	overrides, err := mapField(fields, "overrides")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	cfg, err := s.service.Resolve(ctx, namespaceID, core.Context(evalContext), core.Overrides(overrides))
	if err != nil {
		return nil, toGRPCError(err)
	}

	if label := strings.TrimSpace(stringField(fields, "label")); label != "" {
		return structFromValue(labelJSONResponse{Label: label, Settings: cfg.ForLabel(label)})
	}

	payload, err := cfg.Dehydrate()
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structFromJSON(payload)
}

func (s *GRPCServer) ListSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	namespaceID, err := s.namespaceID(ctx, req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	list, err := s.service.ListSettings(ctx, namespaceID)
	if err != nil {
		return nil, toGRPCError(err)
	}

	fields := req.AsMap()
	pageSize, ok := numberField(fields, "page_size")
	if !ok || pageSize < 0 {
		return nil, status.Error(codes.InvalidArgument, "page_size must be a non-negative integer")
	}
	pageStart, err := parseListPageToken(stringField(fields, "page_token"), len(list))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid page_token")
	}

	pageEnd := len(list)
	nextPageToken := ""
	if pageSize > 0 {
		pageEnd = min(pageStart+int(pageSize), len(list))
		if pageEnd < len(list) {
			nextPageToken = strconv.Itoa(pageEnd)
		}
	}

	return structFromValue(map[string]any{
		"settings":        list[pageStart:pageEnd],
		"next_page_token": nextPageToken,
	})
}

func (s *GRPCServer) WatchSettings(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	namespaceID, err := s.namespaceID(ctx, req)
	if err != nil {
		return toGRPCError(err)
	}

	fields := req.AsMap()
	filter := strings.TrimSpace(stringField(fields, "setting"))
	lastEventID, ok := numberField(fields, "last_event_id")
	if !ok || lastEventID < 0 {
		return status.Error(codes.InvalidArgument, "last_event_id must be a non-negative integer")
	}

	listEvents := func(eventID int64) ([]repository.SettingEvent, error) {
		if filter != "" {
			return s.service.ListEventsSinceForSetting(ctx, namespaceID, eventID, filter)
		}
		return s.service.ListEventsSince(ctx, namespaceID, eventID)
	}

	sendEvents := func() error {
		events, err := listEvents(lastEventID)
		if err != nil {
			return toGRPCError(err)
		}
		for _, event := range events {
			lastEventID = event.EventID
			message, ok := eventToStruct(event)
			if !ok {
				continue
			}
			if err := stream.Send(message); err != nil {
				return err
			}
		}
		return nil
	}

	if s.metrics != nil {
		defer s.metrics.IncActiveStreams("grpc")()
	}

	if err := sendEvents(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sendEvents(); err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

func (s *GRPCServer) namespaceID(ctx context.Context, req *structpb.Struct) (string, error) {
	if id, ok := middleware.NamespaceIDFromContext(ctx); ok {
		return id, nil
	}

	name := strings.TrimSpace(stringField(req.AsMap(), namespaceParam))
	if name == "" {
		return "", errUnauthenticated
	}
	ns, err := s.service.NamespaceByName(ctx, name)
	if err != nil {
		return "", err
	}
	return ns.ID, nil
}

func eventToStruct(event repository.SettingEvent) (*structpb.Struct, bool) {
	eventName := toSSEEventName(event.EventType)
	if eventName == "" {
		return nil, false
	}

	message := map[string]any{
		"event_id": event.EventID,
		"type":     eventName,
		"setting":  event.Setting,
	}
	if len(event.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			message["payload"] = payload
		}
	}

	out, err := structFromValue(message)
	if err != nil {
		return nil, false
	}
	return out, true
}

func mapField(fields map[string]any, name string) (map[string]any, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return nil, nil
	}
	value, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New(name + " must be an object")
	}
	return value, nil
}

func stringField(fields map[string]any, name string) string {
	value, _ := fields[name].(string)
	return value
}

// numberField reads a whole number. A missing field reads as zero.
func numberField(fields map[string]any, name string) (int64, bool) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return 0, true
	}
	value, ok := raw.(float64)
	if !ok || value != math.Trunc(value) || math.Abs(value) > 1<<53 {
		return 0, false
	}
	return int64(value), true
}

func structFromValue(value any) (*structpb.Struct, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return structFromJSON(payload)
}

func structFromJSON(payload []byte) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func parseListPageToken(pageToken string, maxOffset int) (int, error) {
	pageToken = strings.TrimSpace(pageToken)
	if pageToken == "" {
		return 0, nil
	}

	offset, err := strconv.Atoi(pageToken)
	if err != nil || offset < 0 || offset > maxOffset {
		return 0, errors.New("invalid page token")
	}

	return offset, nil
}
