package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rishith2903/medreserve/services/booking-service/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DoctorDirectory requests and replies are google.protobuf.Struct messages.
const (
	serviceName         = "medreserve.directory.v1.DoctorDirectory"
	methodGetSchedule   = "/" + serviceName + "/GetSchedule"
	methodPatientExists = "/" + serviceName + "/PatientExists"
)

// GRPC is a Provider backed by a remote DoctorDirectory service.
type GRPC struct {
	conn grpc.ClientConnInterface
}

func NewGRPC(conn grpc.ClientConnInterface) *GRPC {
	return &GRPC{conn: conn}
}

func (g *GRPC) Schedule(ctx context.Context, doctorID string) (model.DoctorSchedule, error) {
	req, err := structpb.NewStruct(map[string]any{"doctor_id": doctorID})
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, methodGetSchedule, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return model.DoctorSchedule{}, notFound(doctorID)
		}
		return model.DoctorSchedule{}, fmt.Errorf("directory GetSchedule: %w", err)
	}
	raw, err := json.Marshal(resp.AsMap())
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	return decodeSchedule(raw)
}

func (g *GRPC) PatientExists(ctx context.Context, patientID string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{"patient_id": patientID})
	if err != nil {
		return false, err
	}
	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, methodPatientExists, req, resp); err != nil {
		return false, fmt.Errorf("directory PatientExists: %w", err)
	}
	return resp.GetFields()["exists"].GetBoolValue(), nil
}

// RegisterServer exposes p as a DoctorDirectory service on s.
func RegisterServer(s grpc.ServiceRegistrar, p Provider) {
	s.RegisterService(&serviceDesc, p)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Provider)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSchedule", Handler: unaryHandler(methodGetSchedule, getSchedule)},
		{MethodName: "PatientExists", Handler: unaryHandler(methodPatientExists, patientExists)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "medreserve/directory/v1/directory.proto",
}

type structMethod func(ctx context.Context, p Provider, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, fn structMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return fn(ctx, srv.(Provider), req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
	}
}

func getSchedule(ctx context.Context, p Provider, req *structpb.Struct) (*structpb.Struct, error) {
	doctorID := req.GetFields()["doctor_id"].GetStringValue()
	if doctorID == "" {
		return nil, status.Error(codes.InvalidArgument, "doctor_id is required")
	}
	schedule, err := p.Schedule(ctx, doctorID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	raw, err := encodeSchedule(schedule)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(fields)
}

func patientExists(ctx context.Context, p Provider, req *structpb.Struct) (*structpb.Struct, error) {
	patientID := req.GetFields()["patient_id"].GetStringValue()
	if patientID == "" {
		return nil, status.Error(codes.InvalidArgument, "patient_id is required")
	}
	ok, err := p.PatientExists(ctx, patientID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"exists": ok})
}
