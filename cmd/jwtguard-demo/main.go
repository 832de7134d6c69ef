// jwtguard-demo wires the guard into a minimal net/http service: login,
// refresh redemption, logout and an authenticated /me endpoint. User
// lookup is an in-memory stub — credential verification is the host
// application's business, not the guard's.
package main

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/EduardoReolon/jwtguard/guard"
	"github.com/EduardoReolon/jwtguard/pkg/cryptox"
	"github.com/EduardoReolon/jwtguard/pkg/httpx"
	"github.com/EduardoReolon/jwtguard/pkg/slogx"
	"github.com/EduardoReolon/jwtguard/store/drivers/sqlite"
)

type demoUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u demoUser) AuthID() string { return u.ID }

type demoResolver struct {
	users map[string]demoUser
}

func (r demoResolver) FindByID(_ context.Context, id string) (guard.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

// slogObserver forwards guard domain events to the structured logger.
type slogObserver struct{}

func (slogObserver) OnLogin(ctx context.Context, ev guard.Event) {
	slogx.FromContext(ctx).Info("user logged in", "user_id", ev.UserID, "token_hash", ev.TokenHash)
}

func (slogObserver) OnAuthenticate(ctx context.Context, ev guard.Event) {
	slogx.FromContext(ctx).Debug("request authenticated", "user_id", ev.UserID)
}

func main() {
	cfg := loadConfig()

	logger := slogx.New(slogx.Config{
		Service: "jwtguard-demo",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	key, err := loadPrivateKey(cfg)
	if err != nil {
		log.Fatalf("load private key: %v", err)
	}

	tokens, err := sqlite.NewStore(cfg.DatabaseFile)
	if err != nil {
		log.Fatalf("open token store: %v", err)
	}
	defer tokens.Close()

	if err := tokens.ApplyMigrations(); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	resolver := demoResolver{users: map[string]demoUser{
		"u1": {ID: "u1", Email: "u1@example.com"},
		"u2": {ID: "u2", Email: "u2@example.com"},
	}}

	g, err := guard.New(guard.Config{
		PersistAccessToken: cfg.PersistAccess,
		PrivateKey:         key,
		AccessTokenTTL:     cfg.AccessTTL,
		RefreshTokenTTL:    cfg.RefreshTTL,
		Issuer:             cfg.Issuer,
		Audience:           cfg.Audience,
	}, tokens, resolver, guard.WithObserver(slogObserver{}))
	if err != nil {
		log.Fatalf("build guard: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /login", httpx.Chain(loginHandler(g), httpx.RateLimit(httpx.StrictLimit)))
	mux.Handle("POST /refresh", httpx.Chain(refreshHandler(g), httpx.RateLimit(httpx.StrictLimit)))
	mux.Handle("POST /logout", httpx.Chain(logoutHandler(g), httpx.Authn(g)))
	mux.Handle("GET /me", httpx.Chain(meHandler(), httpx.Authn(g), httpx.RateLimit(httpx.ModerateLimit)))

	logger.Info("listening", "addr", cfg.Addr, "persist_access_token", cfg.PersistAccess)
	if err := http.ListenAndServe(cfg.Addr, withLogger(logger, mux)); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

// loadPrivateKey reads the configured key file, decrypting it when a
// passphrase is set. Without a key file a fresh ephemeral key is
// generated — fine for a demo, useless in production since tokens die
// with the process.
func loadPrivateKey(cfg config) ([]byte, error) {
	if cfg.PrivateKeyFile == "" {
		slog.Warn("no private key configured, generating an ephemeral one")
		return cryptox.GenerateRSAKey(2048)
	}

	data, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	if cfg.KeyPassphrase != "" && !isPEM(data) {
		return cryptox.DecryptPrivateKey(data, []byte(cfg.KeyPassphrase))
	}
	return data, nil
}

func isPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

func withLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogx.WithContext(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loginHandler(g *guard.Guard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "user_id required")
			return
		}

		// A real host application verifies credentials before this
		// point; the guard only ever sees an authenticated identity.
		sess := g.ForRequest(r)
		token, err := sess.LoginByID(r.Context(), body.UserID)
		if err != nil {
			if guard.IsAuthError(err) {
				httpx.WriteError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "login failed")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, token)
	})
}

func refreshHandler(g *guard.Guard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "refresh_token required")
			return
		}

		sess := g.ForRequest(r)
		token, err := sess.LoginViaRefreshToken(r.Context(), body.RefreshToken)
		if err != nil {
			if guard.IsAuthError(err) {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "refresh failed")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, token)
	})
}

func logoutHandler(g *guard.Guard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		sess := httpx.SessionFromContext(r.Context())
		if sess == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if err := sess.Logout(r.Context(), guard.WithRefreshToken(body.RefreshToken)); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func meHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := httpx.SessionFromContext(r.Context())
		if sess == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sess)
	})
}
