package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type echoReq struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type echoResp struct {
	ID    int64     `json:"id"`
	Upper string    `json:"upper"`
	At    time.Time `json:"at"`
}

type tick struct {
	N int `json:"n"`
}

var at = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testService() Service {
	return Service{
		Name: "EchoService",
		Methods: []Method{
			Unary("Echo", func(_ context.Context, r echoReq) (echoResp, error) {
				if r.Text == "" {
					return echoResp{}, status.Error(codes.InvalidArgument, "empty text")
				}
				return echoResp{ID: r.ID, Upper: r.Text + "!", At: at}, nil
			}),
		},
		Streams: []Stream{
			ServerStream("Count", func(ctx context.Context, r tick, send func(tick) error) error {
				for i := 1; i <= r.N; i++ {
					if err := send(tick{N: i}); err != nil {
						return err
					}
				}
				return nil
			}),
		},
	}
}

func dial(t *testing.T, opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "duet-rpc-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "r.sock")

	srv := grpc.NewServer(opts...)
	Register(srv, testService())
	lis, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("unix://"+sock, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestUnaryRoundTrip(t *testing.T) {
	conn := dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Call[echoReq, echoResp](ctx, conn, "EchoService", "Echo", echoReq{ID: 1 << 40, Text: "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.ID != 1<<40 || resp.Upper != "hi!" || !resp.At.Equal(at) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUnaryStatusPassesThrough(t *testing.T) {
	conn := dial(t)
	_, err := Call[echoReq, echoResp](context.Background(), conn, "EchoService", "Echo", echoReq{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument (err %v)", status.Code(err), err)
	}
}

func TestUnknownMethod(t *testing.T) {
	conn := dial(t)
	_, err := Call[echoReq, echoResp](context.Background(), conn, "EchoService", "Missing", echoReq{Text: "x"})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("code = %v, want Unimplemented", status.Code(err))
	}
}

func TestInterceptorSeesFullMethod(t *testing.T) {
	var seen string
	conn := dial(t, grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}))
	if _, err := Call[echoReq, echoResp](context.Background(), conn, "EchoService", "Echo", echoReq{Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if seen != "/duet.v1.EchoService/Echo" {
		t.Errorf("FullMethod = %q", seen)
	}
}

func TestServerStream(t *testing.T) {
	conn := dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := Open[tick, tick](ctx, conn, "EchoService", "Count", tick{N: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var got []int
	for {
		it, err := rx.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got = append(got, it.N)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("stream = %v, want [1 2 3]", got)
	}
}

func TestEncodeRejectsNonObject(t *testing.T) {
	if _, err := Encode([]int{1, 2}); err == nil {
		t.Error("expected error for a JSON array")
	}
	s, err := Encode(echoReq{ID: 5, Text: "a"})
	if err != nil {
		t.Fatal(err)
	}
	var back echoReq
	if err := Decode(s, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != 5 || back.Text != "a" {
		t.Errorf("decoded = %+v", back)
	}
}

func TestEncodeKeepsLargeIntegers(t *testing.T) {
	type inner struct {
		N int64 `json:"n"`
	}
	type payload struct {
		ID      int64   `json:"id"`
		IDs     []int64 `json:"ids"`
		Nested  inner   `json:"nested"`
		Text    string  `json:"text"`
		Small   int64   `json:"small"`
		Unsized uint64  `json:"unsized"`
		Ratio   float64 `json:"ratio"`
	}
	in := payload{
		ID:      1<<62 + 1,
		IDs:     []int64{9007199254740993, -9007199254740993, 7},
		Text:    "9007199254740993",
		Small:   1 << 53,
		Unsized: 1<<64 - 1,
		Ratio:   0.25,
	}
	in.Nested.N = 1<<60 + 3

	s, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	var out payload
	if err := Decode(s, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Nested.N != in.Nested.N || out.Small != in.Small || out.Unsized != in.Unsized {
		t.Errorf("integers changed: got %+v, want %+v", out, in)
	}
	if len(out.IDs) != 3 || out.IDs[0] != in.IDs[0] || out.IDs[1] != in.IDs[1] || out.IDs[2] != 7 {
		t.Errorf("IDs = %v, want %v", out.IDs, in.IDs)
	}
	if out.Text != in.Text || out.Ratio != in.Ratio {
		t.Errorf("text/ratio = %q/%v", out.Text, out.Ratio)
	}
}

func TestLargeIDsSurviveCall(t *testing.T) {
	conn := dial(t)
	const id = int64(1<<62 + 5)
	resp, err := Call[echoReq, echoResp](context.Background(), conn, "EchoService", "Echo", echoReq{ID: id, Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != id {
		t.Errorf("ID = %d, want %d", resp.ID, id)
	}
}
