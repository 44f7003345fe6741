package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidName is returned for names that are present but unusable.
var ErrInvalidName = errors.New("invalid session name")

// Resolver resolves the session of an incoming request. A nil record with a
// nil error means the request is anonymous.
type Resolver func(r *http.Request) (*Record, error)

// Header names read by FromRequest.
const (
	HeaderName = "X-Livekit-User"
	HeaderRole = "X-Livekit-Role"
)

const maxNameLength = 64

// FromRequest reads the user from the X-Livekit-User header or the "name"
// query parameter, and the role likewise from X-Livekit-Role or "role".
// Requests naming the same user get the same session id.
//
// Both identity and role are taken from the client as given, so anyone can
// claim to be any user or an admin. Use it for development and tests only
// and put a Resolver that checks credentials in front of real deployments.
func FromRequest(r *http.Request) (*Record, error) {
	name := strings.TrimSpace(r.Header.Get(HeaderName))
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("name"))
	}
	if name == "" {
		return nil, nil
	}
	if len(name) > maxNameLength || strings.ContainsAny(name, "\r\n\t") {
		return nil, ErrInvalidName
	}
	role := strings.TrimSpace(r.Header.Get(HeaderRole))
	if role == "" {
		role = r.URL.Query().Get("role")
	}
	return &Record{
		ID:        ID(name),
		Name:      name,
		Role:      role,
		CreatedAt: time.Now(),
	}, nil
}

// ID derives a stable session id from a user name.
func ID(name string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(name)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		return hex.EncodeToString(sum[:16])
	}
	return id.String()
}
