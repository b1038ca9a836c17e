package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const SessionIDKey contextKey = "session_id"

// SessionAuth issues and verifies anonymous session tokens. A session owns
// the quizzes, attempts and jobs created with its token.
type SessionAuth struct {
	Secret []byte
	TTL    time.Duration
}

func NewSessionAuth(secret string, ttl time.Duration) *SessionAuth {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SessionAuth{Secret: []byte(secret), TTL: ttl}
}

// IssueToken signs a token for the session.
func (s *SessionAuth) IssueToken(sessionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sid": sessionID.String(),
		"exp": now.Add(s.TTL).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

var (
	errMissingToken = errors.New("Missing authorization header")
	errTokenFormat  = errors.New("Invalid authorization format")
	errTokenExpired = errors.New("Token has expired")
	errTokenInvalid = errors.New("Invalid token")
)

// ParseToken verifies a token and returns its session ID.
func (s *SessionAuth) ParseToken(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, errTokenExpired
		}
		return uuid.Nil, errTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, errTokenInvalid
	}

	sid, ok := claims["sid"].(string)
	if !ok {
		return uuid.Nil, errTokenInvalid
	}
	id, err := uuid.Parse(sid)
	if err != nil {
		return uuid.Nil, errTokenInvalid
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}

	// Must be Bearer format
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errTokenFormat
	}
	return strings.TrimSpace(parts[1]), nil
}

// Middleware requires a valid session token and attaches the session ID.
func (s *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), r)
			return
		}

		sessionID, err := s.ParseToken(tokenStr)
		if err != nil {
			code := "UNAUTHORIZED"
			if errors.Is(err, errTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			writeError(w, http.StatusUnauthorized, code, err.Error(), r)
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the session ID when a valid token is present and lets
// the request through either way. Generation uses it to continue an
// existing session or start a new one.
func (s *SessionAuth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStr, err := bearerToken(r); err == nil {
			if sessionID, err := s.ParseToken(tokenStr); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), SessionIDKey, sessionID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// GetSessionID extracts the session ID from request context
func GetSessionID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(SessionIDKey).(uuid.UUID)
	return id
}

// WithSessionID is used by handlers tests and the WebSocket upgrade, which
// authenticates from a query parameter.
func WithSessionID(ctx context.Context, sessionID uuid.UUID) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
