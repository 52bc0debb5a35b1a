package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// BearerToken returns the token from an "Authorization: Bearer" header. An
// absent header yields an empty token and no error. A header with another
// scheme or without a token is a MalformedToken error.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", nil
	}

	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", newError(MalformedToken, fmt.Errorf("unsupported authorization scheme %q", scheme))
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", newError(MalformedToken, fmt.Errorf("empty bearer token"))
	}
	return token, nil
}

// ClientAddr returns the caller address. X-Forwarded-For and X-Real-IP are
// consulted only when trustProxy is set.
func ClientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
