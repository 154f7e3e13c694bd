package grpccas

import (
	"context"
	"log/slog"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/storage"
)

// Server exposes a storage.CAS as the store service.
type Server struct {
	UnimplementedStoreServer
	CAS storage.CAS

	// Logger receives one debug record per call; nil disables logging.
	Logger *slog.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	b := in.GetValue()
	expected, err := checksum.ContentID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	id, err := s.CAS.Put(ctx, b)
	if err != nil {
		s.log(ctx, "put failed", "error", err)
		return nil, statusFor(err)
	}
	if !id.Equals(expected) {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	s.log(ctx, "put", "cid", id.String(), "bytes", len(b))
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	id, err := decodeCID(in)
	if err != nil {
		return nil, err
	}
	b, err := s.CAS.Get(ctx, id)
	if err != nil {
		s.log(ctx, "get failed", "cid", id.String(), "error", err)
		return nil, statusFor(err)
	}
	s.log(ctx, "get", "cid", id.String(), "bytes", len(b))
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.CAS == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	id, err := decodeCID(in)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(s.CAS.Has(ctx, id)), nil
}

func decodeCID(in *wrapperspb.StringValue) (cid.Cid, error) {
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return cid.Undef, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	return id, nil
}

func (s *Server) log(ctx context.Context, msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.DebugContext(ctx, msg, args...)
	}
}
