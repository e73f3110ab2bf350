package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/control"
	"github.com/tartfs/tartfs/pkg/device"
	"github.com/tartfs/tartfs/pkg/store"
	"github.com/tartfs/tartfs/pkg/transport"
)

func startTestServer(t *testing.T) (*GRPCServer, *store.Store, string) {
	t.Helper()

	dev, err := device.NewMemory(256)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	if err := store.Format(dev, 16); err != nil {
		t.Fatalf("Failed to format device: %v", err)
	}
	logger := log.NewStandardLogger(log.WithLevel(log.LevelError))
	s, err := store.Open(dev, store.WithLogger(logger))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	server, err := NewGRPCServer("127.0.0.1:0", transport.TransportOptions{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	server.SetRequestHandler(control.NewHandler(s, logger))
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return server, s, server.listener.Addr().String()
}

func sendOK(t *testing.T, c transport.Client, reqType string, payload []byte) transport.Response {
	t.Helper()
	resp, err := c.Send(context.Background(), transport.NewRequest(reqType, payload))
	if err != nil {
		t.Fatalf("Failed to send %s request: %v", reqType, err)
	}
	if resp.Error() != nil {
		t.Fatalf("Request %s failed: %v", reqType, resp.Error())
	}
	return resp
}

func TestGRPCEndToEnd(t *testing.T) {
	_, _, addr := startTestServer(t)

	client, err := transport.GetClient("grpc", addr, transport.TransportOptions{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	// Create a file.
	resp := sendOK(t, client, transport.TypeCreate, nil)
	var created control.CreateResponse
	if err := json.Unmarshal(resp.Payload(), &created); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}

	// Write some data and read it back whole.
	data := []byte("grpc control surface round trip")
	writeReq, _ := json.Marshal(&control.WriteRequest{FileID: created.FileID, Data: data})
	resp = sendOK(t, client, transport.TypeWrite, writeReq)
	var wrote control.WriteResponse
	if err := json.Unmarshal(resp.Payload(), &wrote); err != nil {
		t.Fatalf("Failed to decode write response: %v", err)
	}
	if wrote.N != len(data) || wrote.Size != uint64(len(data)) {
		t.Errorf("Expected write of %d bytes, got n=%d size=%d", len(data), wrote.N, wrote.Size)
	}

	readReq, _ := json.Marshal(&control.ReadRequest{FileID: created.FileID})
	resp = sendOK(t, client, transport.TypeRead, readReq)
	var read control.ReadResponse
	if err := json.Unmarshal(resp.Payload(), &read); err != nil {
		t.Fatalf("Failed to decode read response: %v", err)
	}
	if !bytes.Equal(read.Data, data) {
		t.Errorf("Read back %q, expected %q", read.Data, data)
	}

	// File info should describe the write.
	infoReq, _ := json.Marshal(&control.FileRequest{FileID: created.FileID})
	resp = sendOK(t, client, transport.TypeGetInfo, infoReq)
	var info store.FileInfo
	if err := json.Unmarshal(resp.Payload(), &info); err != nil {
		t.Fatalf("Failed to decode info response: %v", err)
	}
	if info.FileID != created.FileID || info.Size != uint64(len(data)) {
		t.Errorf("Unexpected file info: %+v", info)
	}

	// Listing includes the file.
	resp = sendOK(t, client, transport.TypeListFiles, nil)
	var listing control.ListResponse
	if err := json.Unmarshal(resp.Payload(), &listing); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].FileID != created.FileID {
		t.Errorf("Unexpected listing: %+v", listing.Files)
	}

	// Stats come back as a JSON object.
	resp = sendOK(t, client, transport.TypeGetStats, nil)
	var stats map[string]interface{}
	if err := json.Unmarshal(resp.Payload(), &stats); err != nil {
		t.Fatalf("Failed to decode stats response: %v", err)
	}
	if _, ok := stats["free_blocks"]; !ok {
		t.Error("Expected free_blocks in stats")
	}

	// Remove the file.
	removeReq, _ := json.Marshal(&control.FileRequest{FileID: created.FileID})
	sendOK(t, client, transport.TypeRemove, removeReq)
	resp, err = client.Send(context.Background(), transport.NewRequest(transport.TypeGetInfo, infoReq))
	if err != nil {
		t.Fatalf("Failed to send info request: %v", err)
	}
	if resp.Error() == nil {
		t.Error("Expected error response for removed file")
	}
}

func TestGRPCUnsupportedRequestType(t *testing.T) {
	_, _, addr := startTestServer(t)

	client, err := NewGRPCClient(addr, transport.TransportOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(context.Background(), transport.NewRequest("bogus", nil))
	if err != nil {
		t.Fatalf("Transport error for unsupported type: %v", err)
	}
	if resp.Error() == nil {
		t.Fatal("Expected error response for unsupported request type")
	}
}

func TestGRPCClientNotConnected(t *testing.T) {
	client, err := NewGRPCClient("127.0.0.1:1", transport.TransportOptions{})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.IsConnected() {
		t.Error("New client should not report connected")
	}
	if _, err := client.Send(context.Background(), transport.NewRequest(transport.TypeGetStats, nil)); err != transport.ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestTransportRegistration(t *testing.T) {
	found := false
	for _, name := range transport.AvailableTransports() {
		if name == "grpc" {
			found = true
		}
	}
	if !found {
		t.Fatal("Expected grpc transport in default registry")
	}
}
