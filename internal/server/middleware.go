package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"apirelay/internal/auth"
	"apirelay/internal/errdef"
	"apirelay/internal/storage"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("latency", time.Since(start)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+auth.UserHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.Server.CORSOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// authMiddleware attaches the caller's uid. Anonymous callers pass through
// with an empty uid; an invalid token is rejected.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := s.authn.Identify(r)
		if err != nil {
			s.log.Debug("authentication failed", zap.Error(err))
			respondError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if uid != "" {
			r = r.WithContext(auth.WithUID(r.Context(), uid))
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects anonymous callers and uids that cannot name a
// storage partition.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := auth.UIDFrom(r.Context())
		if uid == "" {
			respondError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if err := storage.ValidateUID(uid); err != nil {
			respondErr(w, err)
			return
		}
		if s.store == nil {
			respondError(w, http.StatusServiceUnavailable, "Storage not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			respondErr(w, errdef.New(errdef.CodeRateLimited, msgTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies a caller for rate limiting: the uid when known,
// otherwise the remote IP.
func clientKey(r *http.Request) string {
	if uid := auth.UIDFrom(r.Context()); uid != "" {
		return "u:" + uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

const (
	limiterIdle    = 10 * time.Minute
	limiterMaxKeys = 10000
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter keeps one token bucket per client.
type limiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*limiterEntry
	now     func() time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	return &limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= limiterMaxKeys {
			l.prune(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// prune drops idle buckets. Must be called with mu held.
func (l *limiter) prune(now time.Time) {
	for k, e := range l.clients {
		if now.Sub(e.seen) > limiterIdle {
			delete(l.clients, k)
		}
	}
}
