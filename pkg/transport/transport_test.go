package transport

import (
	"testing"
)

func TestBasicRequestResponse(t *testing.T) {
	req := NewRequest(TypeGetInfo, []byte(`{"file_id":1}`))
	if req.Type() != TypeGetInfo {
		t.Errorf("Expected type %q, got %q", TypeGetInfo, req.Type())
	}
	if string(req.Payload()) != `{"file_id":1}` {
		t.Errorf("Unexpected payload %q", req.Payload())
	}

	resp := NewResponse(TypeGetInfo, []byte("ok"), nil)
	if resp.Type() != TypeGetInfo || resp.Error() != nil {
		t.Errorf("Unexpected response %v / %v", resp.Type(), resp.Error())
	}

	errResp := NewErrorResponse(ErrUnsupportedRequest)
	if errResp.Type() != TypeError {
		t.Errorf("Expected error type, got %q", errResp.Type())
	}
	if errResp.Error() != ErrUnsupportedRequest {
		t.Errorf("Expected wrapped error, got %v", errResp.Error())
	}
	if string(errResp.Payload()) != ErrUnsupportedRequest.Error() {
		t.Errorf("Expected message payload, got %q", errResp.Payload())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	r.RegisterClient("test", func(endpoint string, options TransportOptions) (Client, error) {
		return nil, nil
	})
	r.RegisterServer("test", func(address string, options TransportOptions) (Server, error) {
		return nil, nil
	})

	if _, err := r.CreateClient("test", "localhost:0", TransportOptions{}); err != nil {
		t.Errorf("Expected registered client factory to run, got %v", err)
	}
	if _, err := r.CreateClient("missing", "localhost:0", TransportOptions{}); err == nil {
		t.Error("Expected error for unregistered client")
	}
	if _, err := r.CreateServer("missing", "localhost:0", TransportOptions{}); err == nil {
		t.Error("Expected error for unregistered server")
	}

	names := r.ListTransports()
	if len(names) != 1 || names[0] != "test" {
		t.Errorf("Expected [test], got %v", names)
	}
}
