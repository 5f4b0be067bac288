// Package rpc declares gRPC services by hand. Every request and response travels
// as a google.protobuf.Struct holding the JSON form of a Go value, so services
// need no generated stubs.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Package is the proto package of every duet service.
const Package = "duet.v1"

// Method is one unary method of a Service.
type Method struct {
	Name    string
	handler func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Stream is one server-streaming method of a Service.
type Stream struct {
	Name    string
	handler func(in *structpb.Struct, ss grpc.ServerStream) error
}

// Service is a named set of methods.
type Service struct {
	Name    string
	Methods []Method
	Streams []Stream
}

// FullName returns the qualified service name, e.g. duet.v1.ChatService.
func (s Service) FullName() string {
	return Package + "." + s.Name
}

// Unary builds a method whose request and response are JSON-encodable values.
// Resp must encode to a JSON object.
func Unary[Req, Resp any](name string, fn func(ctx context.Context, req Req) (Resp, error)) Method {
	return Method{
		Name: name,
		handler: func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			var req Req
			if err := Decode(in, &req); err != nil {
				return nil, err
			}
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			return Encode(resp)
		},
	}
}

// ServerStream builds a server-streaming method. send delivers one value to the
// client.
func ServerStream[Req, Item any](name string, fn func(ctx context.Context, req Req, send func(Item) error) error) Stream {
	return Stream{
		Name: name,
		handler: func(in *structpb.Struct, ss grpc.ServerStream) error {
			var req Req
			if err := Decode(in, &req); err != nil {
				return err
			}
			return fn(ss.Context(), req, func(it Item) error {
				out, err := Encode(it)
				if err != nil {
					return err
				}
				return ss.SendMsg(out)
			})
		},
	}
}

// Desc returns the grpc.ServiceDesc for s.
func (s Service) Desc() *grpc.ServiceDesc {
	full := s.FullName()
	desc := &grpc.ServiceDesc{
		ServiceName: full,
		HandlerType: (*any)(nil),
		Metadata:    "duet/v1/" + s.Name,
	}
	for _, m := range s.Methods {
		method := "/" + full + "/" + m.Name
		h := m.handler
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return h(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return h(ctx, req.(*structpb.Struct))
				})
			},
		})
	}
	for _, st := range s.Streams {
		h := st.handler
		desc.Streams = append(desc.Streams, grpc.StreamDesc{
			StreamName:    st.Name,
			ServerStreams: true,
			Handler: func(_ any, ss grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := ss.RecvMsg(in); err != nil {
					return err
				}
				return h(in, ss)
			},
		})
	}
	return desc
}

// Register adds every service to srv.
func Register(srv *grpc.Server, services ...Service) {
	for _, s := range services {
		srv.RegisterService(s.Desc(), struct{}{})
	}
}

// MethodName returns the wire name of a method, e.g. /duet.v1.ChatService/Send.
func MethodName(service, method string) string {
	return "/" + Package + "." + service + "/" + method
}

// Call invokes a unary method on conn.
func Call[Req, Resp any](ctx context.Context, conn grpc.ClientConnInterface, service, method string, req Req) (Resp, error) {
	var resp Resp
	in, err := Encode(req)
	if err != nil {
		return resp, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodName(service, method), in, out); err != nil {
		return resp, err
	}
	err = Decode(out, &resp)
	return resp, err
}

// Receiver yields the items of a server stream. Recv returns io.EOF when the
// server ends the stream.
type Receiver[Item any] struct {
	cs grpc.ClientStream
}

// Recv blocks for the next item.
func (r *Receiver[Item]) Recv() (Item, error) {
	var it Item
	out := new(structpb.Struct)
	if err := r.cs.RecvMsg(out); err != nil {
		return it, err
	}
	err := Decode(out, &it)
	return it, err
}

// Open starts a server-streaming method on conn. Cancel ctx to end it.
func Open[Req, Item any](ctx context.Context, conn grpc.ClientConnInterface, service, method string, req Req) (*Receiver[Item], error) {
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := conn.NewStream(ctx, desc, MethodName(service, method))
	if err != nil {
		return nil, err
	}
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(in); err != nil {
		if err == io.EOF {
			// The real error surfaces on RecvMsg.
			return &Receiver[Item]{cs: cs}, nil
		}
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Receiver[Item]{cs: cs}, nil
}

// bigInt marks an integer that a Struct number (a float64) cannot hold exactly.
const bigInt = "$int"

// Integers up to maxExact in magnitude survive a float64 round trip.
const maxExact = 1 << 53

// Encode converts v to a Struct through its JSON form. Integers beyond 2^53 are
// carried as {"$int": "<digits>"} so ids keep full precision.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("encode %T: not a JSON object: %w", v, err)
	}
	if m == nil {
		return nil, fmt.Errorf("encode %T: not a JSON object", v)
	}
	out, err := toValues(m)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(out.(map[string]any))
}

// toValues replaces every json.Number with a float64 or, when the number is an
// integer too large for one, a bigInt marker.
func toValues(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			conv, err := toValues(e)
			if err != nil {
				return nil, err
			}
			x[k] = conv
		}
		return x, nil
	case []any:
		for i, e := range x {
			conv, err := toValues(e)
			if err != nil {
				return nil, err
			}
			x[i] = conv
		}
		return x, nil
	case json.Number:
		if n, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			if n > maxExact || n < -maxExact {
				return map[string]any{bigInt: x.String()}, nil
			}
			return float64(n), nil
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return map[string]any{bigInt: strconv.FormatUint(u, 10)}, nil
		}
		return x.Float64()
	default:
		return v, nil
	}
}

// fromValues undoes the bigInt markers written by toValues.
func fromValues(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x[bigInt].(string); ok && len(x) == 1 {
			return json.Number(s)
		}
		for k, e := range x {
			x[k] = fromValues(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = fromValues(e)
		}
		return x
	default:
		return v
	}
}

// Decode fills v from the JSON form of s.
func Decode(s *structpb.Struct, v any) error {
	b, err := json.Marshal(fromValues(s.AsMap()))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
