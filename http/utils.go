package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
	gut "github.com/panyam/goutils/utils"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrBinaryFrame is returned by JSON codecs for binary frames.
var ErrBinaryFrame = errors.New("binary frames are not supported")

// JsonToQueryString converts a map to a URL query string with keys sorted.
//
//	JsonToQueryString(map[string]any{"name": "ada", "role": "admin"}) // "name=ada&role=admin"
func JsonToQueryString(json map[string]any) string {
	keys := make([]string, 0, len(json))
	for key := range json {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := ""
	for _, key := range keys {
		if len(out) > 0 {
			out += "&"
		}
		out += url.QueryEscape(key) + "=" + url.QueryEscape(fmt.Sprintf("%v", json[key]))
	}
	return out
}

// SendJsonResponse writes resp as JSON, or, when err is set, an error body
// with the HTTP status derived from its gRPC code.
func SendJsonResponse(writer http.ResponseWriter, resp any, err error) {
	output := resp
	httpCode := ErrorToHttpCode(err)
	if err != nil {
		if er, ok := status.FromError(err); ok {
			output = gut.StrMap{
				"error":   er.Code().String(),
				"message": er.Message(),
			}
		} else {
			output = gut.StrMap{
				"error": err.Error(),
			}
		}
	}
	jsonResp, err := json.Marshal(output)
	if err != nil {
		log.WithError(err).Error("Error happened in JSON marshal")
		httpCode = http.StatusInternalServerError
		jsonResp = []byte(`{"error":"Internal"}`)
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(httpCode)
	writer.Write(jsonResp)
}

// ErrorToHttpCode maps the gRPC code of err to an HTTP status. nil is 200
// and errors without a status are 500.
func ErrorToHttpCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	er, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch er.Code() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WSConnReaderWriter starts a reader decoding frames from conn and a writer
// encoding messages onto it, both through codec. Close errors from the peer
// surface as net.ErrClosed.
func WSConnReaderWriter[I any, O any](conn *websocket.Conn, codec Codec[I, O]) (reader *conc.Reader[I], writer *conc.Writer[O]) {
	reader = conc.NewReader(func() (I, error) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var zero I
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = net.ErrClosed
			}
			return zero, err
		}
		return codec.Decode(data, MessageType(msgType))
	})
	writer = conc.NewWriter(func(msg O) error {
		data, msgType, err := codec.Encode(msg)
		if err != nil {
			return err
		}
		return conn.WriteMessage(int(msgType), data)
	})
	return
}

// IsClosed reports whether err means the peer went away.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure)
}

// NormalizeWsUrl turns an http(s) URL into the matching ws(s) URL and drops
// a trailing slash.
//
//	NormalizeWsUrl("https://example.com/graphql/") // "wss://example.com/graphql"
func NormalizeWsUrl(httpOrWsUrl string) string {
	httpOrWsUrl = strings.TrimSuffix(httpOrWsUrl, "/")
	if strings.HasPrefix(httpOrWsUrl, "http:") {
		httpOrWsUrl = "ws:" + httpOrWsUrl[len("http:"):]
	}
	if strings.HasPrefix(httpOrWsUrl, "https:") {
		httpOrWsUrl = "wss:" + httpOrWsUrl[len("https:"):]
	}
	return httpOrWsUrl
}
