// Package adminplane implements C12, the Admin Control Plane: a gRPC
// surface exposing operational control over the task pipeline (listing
// active tasks, forcing a deadline sweep, cancelling a running execution)
// for operators rather than the worker-facing API in internal/apiserver.
//
// control-plane/main.go is the pack's only gRPC-shaped file, but it's a
// *client* of services/control-plane's consensus RPCs, generated from a
// .proto package this module has no way to fetch or regenerate (no protoc,
// no network access to a proto registry). Rather than fabricate a fake
// dependency or drop grpc entirely, this package flips that file's shape
// into a server — same unary request/response, same dial/serve discipline
// — and swaps the generated protobuf codec for a hand-registered JSON one
// (see codec.go), which is a real and documented grpc-go extension point.
package adminplane

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// TaskManager is the subset of C6 this package depends on.
type TaskManager interface {
	GetByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
}

// SweepTrigger is the subset of C9 this package depends on.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) (int, error)
}

// ExecutionCanceller is the subset of C10 this package depends on.
type ExecutionCanceller interface {
	CancelExecution(ctx context.Context, planID string) bool
	ListActive() []string
}

// activeStatuses are the non-terminal statuses an operator cares about when
// asking "what's the pipeline doing right now".
var activeStatuses = []task.Status{
	task.StatusCreated,
	task.StatusAuthorized,
	task.StatusRunning,
}

// ListActiveTasksRequest takes no filter today; reserved for future paging.
type ListActiveTasksRequest struct{}

type ListActiveTasksResponse struct {
	Tasks         []*task.Task `json:"tasks"`
	ActiveExecIDs []string     `json:"activeExecutionPlanIds"`
}

type TriggerSweepRequest struct{}

type TriggerSweepResponse struct {
	TasksSwept int `json:"tasksSwept"`
}

type CancelExecutionRequest struct {
	PlanID string `json:"planId"`
}

type CancelExecutionResponse struct {
	Cancelled bool `json:"cancelled"`
}

// AdminControlPlaneServer is the interface a *grpc.Server registers
// against, mirroring what protoc-gen-go-grpc would emit for this RPC set.
type AdminControlPlaneServer interface {
	ListActiveTasks(ctx context.Context, req *ListActiveTasksRequest) (*ListActiveTasksResponse, error)
	TriggerSweep(ctx context.Context, req *TriggerSweepRequest) (*TriggerSweepResponse, error)
	CancelExecution(ctx context.Context, req *CancelExecutionRequest) (*CancelExecutionResponse, error)
}

// Server is C12.
type Server struct {
	tasks TaskManager
	sweep SweepTrigger
	exec  ExecutionCanceller
}

// New constructs a Server.
func New(tasks TaskManager, sweep SweepTrigger, exec ExecutionCanceller) *Server {
	return &Server{tasks: tasks, sweep: sweep, exec: exec}
}

func (s *Server) ListActiveTasks(ctx context.Context, _ *ListActiveTasksRequest) (*ListActiveTasksResponse, error) {
	var all []*task.Task
	for _, st := range activeStatuses {
		ts, err := s.tasks.GetByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		all = append(all, ts...)
	}
	return &ListActiveTasksResponse{Tasks: all, ActiveExecIDs: s.exec.ListActive()}, nil
}

func (s *Server) TriggerSweep(ctx context.Context, _ *TriggerSweepRequest) (*TriggerSweepResponse, error) {
	swept, err := s.sweep.TriggerSweep(ctx)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "admin-triggered sweep complete", "tasks_swept", swept)
	return &TriggerSweepResponse{TasksSwept: swept}, nil
}

func (s *Server) CancelExecution(ctx context.Context, req *CancelExecutionRequest) (*CancelExecutionResponse, error) {
	ok := s.exec.CancelExecution(ctx, req.PlanID)
	slog.InfoContext(ctx, "admin-triggered cancellation", "plan_id", req.PlanID, "cancelled", ok)
	return &CancelExecutionResponse{Cancelled: ok}, nil
}

// --- hand-authored ServiceDesc, the same shape protoc-gen-go-grpc emits ---

func listActiveTasksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListActiveTasksRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminControlPlaneServer).ListActiveTasks(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ListActiveTasks"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminControlPlaneServer).ListActiveTasks(ctx, req.(*ListActiveTasksRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func triggerSweepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(TriggerSweepRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminControlPlaneServer).TriggerSweep(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TriggerSweep"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminControlPlaneServer).TriggerSweep(ctx, req.(*TriggerSweepRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func cancelExecutionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CancelExecutionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminControlPlaneServer).CancelExecution(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CancelExecution"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminControlPlaneServer).CancelExecution(ctx, req.(*CancelExecutionRequest))
	}
	return interceptor(ctx, req, info, handler)
}

const serviceName = "econos.admin.v1.AdminControlPlane"

// ServiceDesc is registered against a *grpc.Server with RegisterService.
// Every RPC here is unary; the pipeline has no streaming admin surface yet.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListActiveTasks", Handler: listActiveTasksHandler},
		{MethodName: "TriggerSweep", Handler: triggerSweepHandler},
		{MethodName: "CancelExecution", Handler: cancelExecutionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/adminplane/service.go",
}

// Register attaches srv to gs. Clients must dial with
// grpc.CallContentSubtype(codecName) since no generated stub exists to
// bake that in for them.
func Register(gs *grpc.Server, srv AdminControlPlaneServer) {
	gs.RegisterService(&ServiceDesc, srv)
}
