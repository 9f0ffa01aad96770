package server

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/events"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/presence"
	"github.com/alfredjeanlab/tracegate/internal/routing"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

// RoutingServer implements tracegatev1.RoutingServer. The HTTP handlers
// call the same methods, so both transports share one code path.
type RoutingServer struct {
	tracegatev1.UnimplementedRoutingServer
	engine    *routing.Engine
	gate      *auth.Gate
	store     store.Store
	publisher events.Publisher
	Presence  *presence.Tracker
	stream    *streamHub
	health    *health.Server
	logger    *zap.Logger
}

// NewRoutingServer returns a server deciding with engine and checking
// sessions with gate. A nil publisher or logger disables that concern.
func NewRoutingServer(engine *routing.Engine, gate *auth.Gate, st store.Store, pub events.Publisher, logger *zap.Logger) *RoutingServer {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	hs.SetServingStatus(tracegatev1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &RoutingServer{
		engine:    engine,
		gate:      gate,
		store:     st,
		publisher: pub,
		Presence:  presence.New(logger),
		stream:    newStreamHub(),
		health:    hs,
		logger:    logger.Named("server"),
	}
}

type ctxKey struct{}

func withSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// SessionFrom returns the session the auth layer attached to ctx.
func SessionFrom(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(ctxKey{}).(*model.Session)
	return sess
}

// Authenticate validates token and records the request as a sign of life
// for the session.
func (s *RoutingServer) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	sess, err := s.gate.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	s.Presence.RecordHeartbeat(presence.Beat{Token: sess.Token, User: sess.UserName})
	return sess, nil
}

func (s *RoutingServer) session(ctx context.Context) (*model.Session, error) {
	sess := SessionFrom(ctx)
	if sess == nil {
		return nil, auth.ErrInvalidCredentials
	}
	return sess, nil
}

// publish emits event to the bus and the event stream. It is best-effort:
// a broker outage never fails a request whose decision is already committed.
func (s *RoutingServer) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
	s.broadcastEvent(topic, event)
}

// SessionLost releases the holds of a session that stopped heartbeating.
// It is the presence reaper's OnDead callback.
func (s *RoutingServer) SessionLost(token, user string) {
	released := s.engine.ReleaseHolds(token)
	s.logger.Info("session lost", zap.String("user", user), zap.Strings("released", released))
	s.publish(context.Background(), events.TopicSessionLost, events.SessionLost{User: user, Released: released})
}

// Shutdown marks the service not serving on the health endpoint and ends
// open event streams so the HTTP server can drain.
func (s *RoutingServer) Shutdown() {
	s.health.Shutdown()
	s.stream.close()
}

func (s *RoutingServer) Login(ctx context.Context, req *tracegatev1.LoginRequest) (*tracegatev1.LoginResponse, error) {
	if strings.TrimSpace(req.User) == "" {
		return nil, inputError("user is required")
	}
	sess, err := s.gate.Login(ctx, req.User, req.Password)
	if err != nil {
		return nil, err
	}
	s.Presence.RecordHeartbeat(presence.Beat{Token: sess.Token, User: sess.UserName})
	s.publish(ctx, events.TopicSessionOpened, events.SessionOpened{User: sess.UserName, Role: sess.Role})
	return &tracegatev1.LoginResponse{
		Token:     sess.Token,
		User:      sess.UserName,
		Role:      sess.Role,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *RoutingServer) Logout(ctx context.Context, _ *tracegatev1.LogoutRequest) (*tracegatev1.LogoutResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Logout(ctx, sess.Token); err != nil {
		return nil, err
	}
	s.Presence.Forget(sess.Token)
	released := s.engine.ReleaseHolds(sess.Token)
	s.publish(ctx, events.TopicSessionClosed, events.SessionClosed{User: sess.UserName, Reason: "logout"})
	return &tracegatev1.LogoutResponse{Released: released}, nil
}

func (s *RoutingServer) Heartbeat(ctx context.Context, req *tracegatev1.HeartbeatRequest) (*tracegatev1.HeartbeatResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	sess, err = s.gate.Touch(ctx, sess.Token)
	if err != nil {
		return nil, err
	}
	s.Presence.RecordHeartbeat(presence.Beat{
		Token:   sess.Token,
		User:    sess.UserName,
		Station: req.Station,
		Client:  req.Client,
	})
	return &tracegatev1.HeartbeatResponse{ExpiresAt: sess.ExpiresAt}, nil
}

func (s *RoutingServer) SubmitResult(ctx context.Context, req *tracegatev1.SubmitResultRequest) (*tracegatev1.DecisionResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapSubmit); err != nil {
		return nil, err
	}
	if req.Record == nil {
		return nil, inputError("record is required")
	}
	res, err := s.engine.Submit(ctx, sess, req.Record)
	if err != nil {
		return nil, err
	}
	return s.decided(ctx, res), nil
}

// decided publishes a committed entry and builds the response.
func (s *RoutingServer) decided(ctx context.Context, res *routing.Result) *tracegatev1.DecisionResponse {
	if res.Committed {
		s.publish(ctx, events.DecisionTopic(res.Entry.Record.Station), events.DecisionRecorded{Entry: res.Entry, State: res.State})
	}
	return &tracegatev1.DecisionResponse{
		Entry:     res.Entry,
		Replayed:  res.Replayed,
		Committed: res.Committed,
		State:     res.State,
	}
}

func (s *RoutingServer) QueryHistory(ctx context.Context, req *tracegatev1.QueryHistoryRequest) (*tracegatev1.QueryHistoryResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapQuery); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Serial) == "" {
		return nil, inputError("serial is required")
	}
	view, err := s.engine.History(ctx, req.Serial)
	if err != nil {
		return nil, err
	}
	return &tracegatev1.QueryHistoryResponse{
		Serial:  view.Serial,
		State:   view.State,
		Entries: view.Entries,
		Held:    view.HeldBy != "",
	}, nil
}

func (s *RoutingServer) RequestOverride(ctx context.Context, req *tracegatev1.RequestOverrideRequest) (*tracegatev1.DecisionResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.AuthorizeOverride(sess, req.Reason); err != nil {
		return nil, err
	}
	if req.Serial == "" || req.Station == "" {
		return nil, inputError("serial and station are required")
	}
	res, err := s.engine.Override(ctx, sess, req.Serial, req.Station, req.Reason)
	if err != nil {
		return nil, err
	}
	return s.decided(ctx, res), nil
}

func (s *RoutingServer) Scrap(ctx context.Context, req *tracegatev1.ScrapRequest) (*tracegatev1.DecisionResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapManage); err != nil {
		return nil, err
	}
	if req.Serial == "" {
		return nil, inputError("serial is required")
	}
	res, err := s.engine.Scrap(ctx, sess, req.Serial, req.Reason)
	if err != nil {
		return nil, err
	}
	return s.decided(ctx, res), nil
}

func (s *RoutingServer) CheckGoldenSample(ctx context.Context, req *tracegatev1.GoldenSampleRequest) (*tracegatev1.GoldenSampleResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapQuery); err != nil {
		return nil, err
	}
	if req.Serial == "" {
		return nil, inputError("serial is required")
	}
	golden, err := s.store.IsGoldenSample(ctx, req.Serial)
	if err != nil {
		return nil, err
	}
	return &tracegatev1.GoldenSampleResponse{Serial: req.Serial, Golden: golden}, nil
}

func (s *RoutingServer) AddGoldenSample(ctx context.Context, req *tracegatev1.GoldenSampleRequest) (*tracegatev1.GoldenSampleResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapManage); err != nil {
		return nil, err
	}
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return nil, inputError("serial is required")
	}
	if err := s.store.AddGoldenSample(ctx, serial, sess.UserName); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicGoldenSampleAdded, events.GoldenSampleAdded{Serial: serial, AddedBy: sess.UserName})
	return &tracegatev1.GoldenSampleResponse{Serial: serial, Golden: true}, nil
}

func (s *RoutingServer) Hold(ctx context.Context, req *tracegatev1.HoldRequest) (*tracegatev1.HoldResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(sess, model.CapSubmit); err != nil {
		return nil, err
	}
	if req.Serial == "" {
		return nil, inputError("serial is required")
	}
	if err := s.engine.Hold(sess, req.Serial); err != nil {
		return nil, err
	}
	return &tracegatev1.HoldResponse{Serial: req.Serial, Held: true}, nil
}

func (s *RoutingServer) Release(ctx context.Context, req *tracegatev1.HoldRequest) (*tracegatev1.HoldResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if req.Serial == "" {
		return nil, inputError("serial is required")
	}
	s.engine.Unhold(sess, req.Serial)
	return &tracegatev1.HoldResponse{Serial: req.Serial, Held: false}, nil
}

func (s *RoutingServer) Health(_ context.Context, _ *tracegatev1.HealthRequest) (*tracegatev1.HealthResponse, error) {
	return &tracegatev1.HealthResponse{Status: "ok"}, nil
}
