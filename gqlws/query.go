package gqlws

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/livekit/gqlctx"
	gohttp "github.com/panyam/livekit/http"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/logging"
)

// maxQueryBody bounds POST bodies.
const maxQueryBody = 1 << 20

// ServeQuery runs a one-shot operation posted as JSON. Live queries and
// subscriptions need a WebSocket and are refused.
func (h *Handler) ServeQuery(w http.ResponseWriter, r *http.Request) {
	var req livequery.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		gohttp.SendJsonResponse(w, nil, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return
	}
	doc, err := livequery.Classify(req)
	if err != nil {
		gohttp.SendJsonResponse(w, nil, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	if doc.Mode != livequery.ModeOneShot {
		gohttp.SendJsonResponse(w, nil, status.Errorf(codes.InvalidArgument, "%s operations require a WebSocket", doc.Mode))
		return
	}

	connID := "http-" + uuid.NewString()
	if h.Resolve != nil {
		rec, err := h.Resolve(r)
		if err != nil {
			gohttp.SendJsonResponse(w, nil, status.Error(codes.Unauthenticated, err.Error()))
			return
		}
		if rec != nil && h.Sessions != nil {
			h.Sessions.Bind(connID, rec)
			defer h.Sessions.Unbind(connID)
		}
	}
	values, err := h.Builder.Build(connID)
	if err != nil {
		h.Metrics.Operation(doc.Mode.String(), "rejected")
		gohttp.SendJsonResponse(w, nil, status.Error(codes.FailedPrecondition, err.Error()))
		return
	}

	ctx := gqlctx.With(r.Context(), values)
	stream, err := h.Store.ExecuteDocument(ctx, connID, doc)
	if err != nil {
		gohttp.SendJsonResponse(w, nil, executeStatus(err))
		return
	}
	defer stream.Cancel()
	res, err := stream.Next(ctx)
	if err != nil {
		gohttp.SendJsonResponse(w, nil, status.Error(codes.Canceled, err.Error()))
		return
	}
	h.Metrics.Operation(doc.Mode.String(), "completed")
	if h.Logger != nil {
		h.Logger.WithFields(logging.Fields{"conn_id": connID, "errors": len(res.Errors)}).Debug("Served HTTP operation")
	}
	gohttp.SendJsonResponse(w, res, nil)
}
