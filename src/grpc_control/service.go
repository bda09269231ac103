package grpc_control

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"market-platform/src/command"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/obbject"
	"market-platform/src/provider"
	"market-platform/src/server"
	"market-platform/src/websocket"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ControlService serves control.Control on top of the same runner and feed
// manager as the HTTP API.
type ControlService struct {
	Registry *provider.Registry
	Runner   *command.Runner
	Feeds    *websocket.FeedManager
	// Auth resolves the caller's settings from the "authorization" metadata
	// when set.
	Auth   interfaces.IAuthHook
	Logger *logger.Logger

	endpoints map[string]*server.APIEndpoint
}

// NewControlService wraps every runner command the way the HTTP server does.
func NewControlService(reg *provider.Registry, runner *command.Runner, feeds *websocket.FeedManager, auth interfaces.IAuthHook, log *logger.Logger) *ControlService {
	if feeds == nil {
		feeds = websocket.DefaultManager()
	}
	if log == nil {
		log = logger.NewLogger(nil, "ControlService")
	}
	s := &ControlService{
		Registry:  reg,
		Runner:    runner,
		Feeds:     feeds,
		Auth:      auth,
		Logger:    log,
		endpoints: make(map[string]*server.APIEndpoint),
	}
	for _, ep := range server.BuildAPIWrappers(server.WrapperOptions{
		Runner:        runner,
		AuthEnabled:   auth != nil,
		Charting:      runner.Charting(),
		CustomHeaders: runner.CustomHeaders(),
	}) {
		s.endpoints[ep.Path] = ep
	}
	return s
}

// NewServer returns a grpc.Server with the control service and its logging
// and recovery interceptor installed.
func NewServer(svc *ControlService, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(svc.intercept))
	s := grpc.NewServer(opts...)
	Register(s, svc)
	return s
}

// -----------------------------------------------------------------------------

func (s *ControlService) intercept(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Critical("gRPC: panic in %s: %v\n%s", info.FullMethod, r, debug.Stack())
			err = status.Errorf(codes.Internal, "internal error")
		}
		if err != nil {
			s.Logger.Warning("gRPC: %s failed after %s: %v", info.FullMethod, time.Since(start), err)
		} else {
			s.Logger.Debug("gRPC: %s served in %s", info.FullMethod, time.Since(start))
		}
	}()
	return next(ctx, req)
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListProviders(ctx context.Context, _ *Empty) (*ListProvidersResponse, error) {
	out := &ListProvidersResponse{Providers: []ProviderInfo{}}
	for _, name := range s.Registry.Names() {
		p, _ := s.Registry.Get(name)
		out.Providers = append(out.Providers, ProviderInfo{
			Name:        p.Name,
			Description: p.Description,
			Website:     p.Website,
			Credentials: append([]string{}, p.Credentials...),
			Models:      p.Models(),
		})
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListCommands(ctx context.Context, _ *Empty) (*ListCommandsResponse, error) {
	paths := make([]string, 0, len(s.endpoints))
	for p := range s.endpoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := &ListCommandsResponse{Commands: make([]CommandInfo, 0, len(paths))}
	for _, p := range paths {
		ep := s.endpoints[p]
		info := CommandInfo{Path: p, Methods: ep.Methods, Params: []string{}}
		if ep.Command.IsStandard() {
			info.Model = ep.Command.Model()
			info.Providers = s.Runner.Map().ProvidersFor(info.Model)
		}
		for _, param := range ep.Signature.Params {
			if !param.Hidden {
				info.Params = append(info.Params, param.Name)
			}
		}
		out.Commands = append(out.Commands, info)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// Execute runs one command. EmptyData comes back as OK with an empty envelope
// and a warning, like the HTTP surface.
func (s *ControlService) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	path := "/" + strings.Trim(req.Path, "/")
	ep, ok := s.endpoints[path]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no command at %s", path)
	}

	kw := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		kw[k] = v
	}
	for _, h := range s.Runner.CustomHeaders() {
		if v, ok := req.Headers[h]; ok {
			kw[command.HeaderParam(h)] = v
		}
	}
	if s.Auth != nil {
		settings, err := s.Auth.UserSettings(ctx, authRequest(ctx))
		if err != nil {
			return nil, StatusError(err)
		}
		kw[command.AuthSettingsKey] = settings
	}

	o, err := ep.Call(ctx, kw)
	if err != nil {
		if helpers.Kind(err) != helpers.KindEmptyData {
			return nil, StatusError(err)
		}
		o = obbject.New(nil)
		o.SetRoute(path)
		o.Warnings = []models.MWarning{{Category: "EmptyDataWarning", Message: err.Error()}}
	}
	body, err := json.Marshal(o)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return &ExecuteResponse{OBBject: body}, nil
}

// authRequest carries the authorization metadata over to the HTTP auth hook.
func authRequest(ctx context.Context) *http.Request {
	req := &http.Request{Header: http.Header{}}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get("authorization") {
			req.Header.Add("Authorization", v)
		}
	}
	return req.WithContext(ctx)
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListFeeds(ctx context.Context, _ *Empty) (*ListFeedsResponse, error) {
	feeds := s.Feeds.List()
	if feeds == nil {
		feeds = []models.MFeedStatus{}
	}
	return &ListFeedsResponse{Feeds: feeds}, nil
}

func (s *ControlService) Subscribe(ctx context.Context, req *FeedRequest) (*FeedResponse, error) {
	return s.changeFeed(req, s.Feeds.Subscribe)
}

func (s *ControlService) Unsubscribe(ctx context.Context, req *FeedRequest) (*FeedResponse, error) {
	return s.changeFeed(req, s.Feeds.Unsubscribe)
}

func (s *ControlService) changeFeed(req *FeedRequest, change func(string, []string) error) (*FeedResponse, error) {
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	c, ok := s.Feeds.Get(req.Name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "feed %s not found", req.Name)
	}
	if err := change(req.Name, req.Symbols); err != nil {
		return nil, StatusError(err)
	}
	s.Logger.Info("gRPC: feed %s now on %v", req.Name, c.Symbols())
	return &FeedResponse{Feed: c.Status()}, nil
}

// -----------------------------------------------------------------------------

// StatusError maps a platform error onto a gRPC status.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch helpers.Kind(err) {
	case helpers.KindEmptyData:
		code = codes.OK
	case helpers.KindUnauthorized:
		code = codes.Unauthenticated
	case helpers.KindRateLimited:
		code = codes.ResourceExhausted
	case helpers.KindValidation:
		code = codes.InvalidArgument
	case helpers.KindProvider:
		code = codes.Unavailable
	case helpers.KindUnsupportedCombination:
		code = codes.FailedPrecondition
	case helpers.KindCancelled:
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
