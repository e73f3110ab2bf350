// Package control implements the store's control surface: it decodes
// transport requests, invokes the corresponding store operation and
// encodes the result, independent of which transport carried the call.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/store"
	"github.com/tartfs/tartfs/pkg/transport"
)

// CreateResponse carries the id of a newly created file.
type CreateResponse struct {
	FileID uint32 `json:"file_id"`
}

// FileRequest addresses one file by id.
type FileRequest struct {
	FileID uint32 `json:"file_id"`
}

// ReadRequest asks for data at a position. A zero Length reads the whole
// file's live content; otherwise a single fragment of at most Length
// bytes is returned.
type ReadRequest struct {
	FileID uint32 `json:"file_id"`
	Pos    uint64 `json:"pos"`
	Length int    `json:"length,omitempty"`
}

// ReadResponse carries the bytes read and the position after the read.
type ReadResponse struct {
	Data []byte `json:"data"`
	N    int    `json:"n"`
	Pos  uint64 `json:"pos"`
}

// WriteRequest stores Data at Pos, or at the end of the file when Append
// is set.
type WriteRequest struct {
	FileID uint32 `json:"file_id"`
	Pos    uint64 `json:"pos"`
	Append bool   `json:"append,omitempty"`
	Data   []byte `json:"data"`
}

// WriteResponse reports the bytes written and the file's new size.
type WriteResponse struct {
	N    int    `json:"n"`
	Pos  uint64 `json:"pos"`
	Size uint64 `json:"size"`
}

// FileEntry is one row of a file listing.
type FileEntry struct {
	FileID     uint32 `json:"file_id"`
	Size       uint64 `json:"size"`
	BlockCount uint32 `json:"block_count"`
	CreatedAt  int64  `json:"created_at"`
	ModifiedAt int64  `json:"modified_at"`
}

// ListResponse carries a file listing.
type ListResponse struct {
	Files []FileEntry `json:"files"`
}

// Handler dispatches control requests to a store.
type Handler struct {
	store  *store.Store
	logger log.Logger
}

// NewHandler creates a control handler for the given store.
func NewHandler(s *store.Store, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Handler{store: s, logger: logger}
}

// HandleRequest decodes one request, runs it against the store and
// returns the encoded response. Unknown types yield an error response
// carrying ErrUnsupportedRequest.
func (h *Handler) HandleRequest(ctx context.Context, req transport.Request) (transport.Response, error) {
	switch req.Type() {
	case transport.TypeCreate:
		return h.handleCreate(ctx)
	case transport.TypeRemove:
		return h.handleRemove(ctx, req.Payload())
	case transport.TypeRead:
		return h.handleRead(ctx, req.Payload())
	case transport.TypeWrite:
		return h.handleWrite(ctx, req.Payload())
	case transport.TypeGetInfo:
		return h.handleGetInfo(ctx, req.Payload())
	case transport.TypeDefragment:
		return h.handleDefragment(ctx, req.Payload())
	case transport.TypeListFiles:
		return h.handleList(ctx)
	case transport.TypeGetStats:
		return h.handleGetStats(ctx)
	default:
		h.logger.Warn("rejected request of unknown type %q", req.Type())
		return transport.NewErrorResponse(
			fmt.Errorf("%w: %q", transport.ErrUnsupportedRequest, req.Type())), nil
	}
}

func (h *Handler) handleCreate(ctx context.Context) (transport.Response, error) {
	id, err := h.store.Create(ctx)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return marshalResponse(transport.TypeCreate, &CreateResponse{FileID: id})
}

func (h *Handler) handleRemove(ctx context.Context, payload []byte) (transport.Response, error) {
	var req FileRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return transport.NewErrorResponse(err), nil
	}
	if err := h.store.Remove(ctx, req.FileID); err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return transport.NewResponse(transport.TypeRemove, nil, nil), nil
}

func (h *Handler) handleRead(ctx context.Context, payload []byte) (transport.Response, error) {
	var req ReadRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return transport.NewErrorResponse(err), nil
	}

	handle, err := h.store.OpenFile(req.FileID)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}

	if req.Length == 0 {
		data, err := handle.ReadAll(ctx)
		if err != nil {
			return transport.NewErrorResponse(err), nil
		}
		return marshalResponse(transport.TypeRead, &ReadResponse{Data: data, N: len(data)})
	}

	handle.Seek(req.Pos)
	buf := make([]byte, req.Length)
	n, err := handle.Read(ctx, buf)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return marshalResponse(transport.TypeRead,
		&ReadResponse{Data: buf[:n], N: n, Pos: handle.Pos()})
}

func (h *Handler) handleWrite(ctx context.Context, payload []byte) (transport.Response, error) {
	var req WriteRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return transport.NewErrorResponse(err), nil
	}
	if len(req.Data) > int(block.MaxFileSize) {
		return transport.NewErrorResponse(store.ErrOutOfSpace), nil
	}

	handle, err := h.store.OpenFile(req.FileID)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	handle.SetAppend(req.Append)
	handle.Seek(req.Pos)

	n, err := handle.WriteAll(ctx, req.Data)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	size, err := handle.Size()
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return marshalResponse(transport.TypeWrite,
		&WriteResponse{N: n, Pos: handle.Pos(), Size: size})
}

func (h *Handler) handleGetInfo(ctx context.Context, payload []byte) (transport.Response, error) {
	var req FileRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return transport.NewErrorResponse(err), nil
	}
	info, err := h.store.GetInfo(ctx, req.FileID)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return marshalResponse(transport.TypeGetInfo, info)
}

func (h *Handler) handleDefragment(ctx context.Context, payload []byte) (transport.Response, error) {
	var req FileRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		return transport.NewErrorResponse(err), nil
	}
	result, err := h.store.Defragment(ctx, req.FileID)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return marshalResponse(transport.TypeDefragment, result)
}

func (h *Handler) handleList(ctx context.Context) (transport.Response, error) {
	files, err := h.store.List(ctx)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	resp := &ListResponse{Files: make([]FileEntry, 0, len(files))}
	for _, m := range files {
		resp.Files = append(resp.Files, FileEntry{
			FileID:     m.ID,
			Size:       m.Size,
			BlockCount: m.BlockCount,
			CreatedAt:  m.CreatedAt,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return marshalResponse(transport.TypeListFiles, resp)
}

func (h *Handler) handleGetStats(ctx context.Context) (transport.Response, error) {
	return marshalResponse(transport.TypeGetStats, h.store.GetStats())
}

func unmarshalPayload(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrInvalidPayload, err)
	}
	return nil
}

func marshalResponse(responseType string, v interface{}) (transport.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return transport.NewErrorResponse(err), nil
	}
	return transport.NewResponse(responseType, data, nil), nil
}
