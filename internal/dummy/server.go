// Package dummy is a local target server for trying out run configurations.
package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Port int
	// NoDelay disables simulated latency.
	NoDelay bool
}

// MaxUsersLimit caps the page size of /users.
const MaxUsersLimit = 1000

// User is one entry of the /users listing.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Handler returns the dummy endpoints.
func Handler(cfg ServerConfig) http.Handler {
	sleep := func(d time.Duration) {
		if !cfg.NoDelay {
			time.Sleep(d)
		}
	}

	mux := http.NewServeMux()

	// Fast Endpoint (10-50ms)
	mux.HandleFunc("GET /fast", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(40)+10) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Fast response"))
	})

	// Medium Endpoint (100-300ms)
	mux.HandleFunc("GET /medium", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(200)+100) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Medium response"))
	})

	// Slow Endpoint (1s-2s), trips latency thresholds
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(1000)+1000) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Slow response"))
	})

	// Spike Endpoint: usually fast, 5% of requests take 2s
	mux.HandleFunc("GET /spike", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.05 {
			sleep(2 * time.Second)
		} else {
			sleep(20 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Spikey response"))
	})

	// Error Endpoint: 20% 500, 20% 429
	mux.HandleFunc("GET /error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		if rnd < 0.2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
		} else if rnd < 0.4 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("429 Too Many Requests"))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}
	})

	// Paged user listing (5-20ms)
	mux.HandleFunc("GET /users/{offset}/{limit}", func(w http.ResponseWriter, r *http.Request) {
		offset, err1 := strconv.Atoi(r.PathValue("offset"))
		limit, err2 := strconv.Atoi(r.PathValue("limit"))
		if err1 != nil || err2 != nil || offset < 0 || limit < 0 || limit > MaxUsersLimit {
			http.Error(w, "invalid offset or limit", http.StatusBadRequest)
			return
		}
		sleep(time.Duration(rand.Intn(15)+5) * time.Millisecond)

		users := make([]User, limit)
		for i := range users {
			id := offset + i
			users[i] = User{ID: id, Name: fmt.Sprintf("user-%d", id), Email: fmt.Sprintf("user-%d@example.com", id)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(users)
	})

	return mux
}

// Start serves the dummy endpoints on cfg.Port until ctx is done and returns
// the bound address.
func Start(ctx context.Context, cfg ServerConfig, log zerolog.Logger) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return "", err
	}

	server := &http.Server{
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("dummy server failed")
		}
	}()

	addr := fmt.Sprintf("localhost:%d", ln.Addr().(*net.TCPAddr).Port)
	log.Info().
		Str("addr", addr).
		Strs("endpoints", []string{"/fast", "/medium", "/slow", "/spike", "/error", "/users/{offset}/{limit}"}).
		Msg("dummy server running")
	return addr, nil
}
