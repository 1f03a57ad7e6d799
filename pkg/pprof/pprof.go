// Package pprof exposes the runtime profiles of a running correlator so that
// slow or memory-hungry correlation runs can be diagnosed in place.
//
// Mount the handlers on an existing mux:
//
//	h, err := pprof.NewHandler(pprof.Options{Profiles: []pprof.ProfileType{pprof.ProfileHeap}})
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/debug/pprof/", h)
//	defer h.Close()
package pprof

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DefaultPath is the URL prefix the handlers are served under.
const DefaultPath = "/debug/pprof"

// maxCPUSeconds caps the duration of a CPU profile request.
const maxCPUSeconds = 300

// ProfileType defines the type of profile to expose.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

// AllProfileTypes returns all supported profile types.
func AllProfileTypes() []ProfileType {
	return []ProfileType{
		ProfileCPU,
		ProfileHeap,
		ProfileGoroutine,
		ProfileBlock,
		ProfileMutex,
		ProfileAllocs,
	}
}

// DefaultProfileTypes returns the profile types exposed when none are configured.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine}
}

// ParseProfileTypes parses a comma-separated string into profile types.
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	valid := make(map[ProfileType]bool)
	for _, pt := range AllProfileTypes() {
		valid[pt] = true
	}

	parts := strings.Split(s, ",")
	types := make([]ProfileType, 0, len(parts))
	for _, p := range parts {
		pt := ProfileType(strings.TrimSpace(strings.ToLower(p)))
		if !valid[pt] {
			return nil, fmt.Errorf("unknown profile type: %q", p)
		}
		types = append(types, pt)
	}
	return types, nil
}

// Options configures the profiling handlers.
type Options struct {
	// Path is the URL prefix. Empty selects DefaultPath.
	Path string
	// Profiles lists the exposed profile types. Empty selects the defaults.
	Profiles []ProfileType
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string
	// DefaultSeconds is the CPU profile duration when the request has none.
	DefaultSeconds int
}

// Handler serves the enabled profiles under a common prefix.
type Handler struct {
	mux      *http.ServeMux
	opts     Options
	profiles map[ProfileType]bool
}

// NewHandler builds the handlers and turns on block and mutex sampling when
// those profiles are requested. Call Close to turn sampling off again.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if !strings.HasPrefix(opts.Path, "/") {
		return nil, fmt.Errorf("pprof path must start with '/': %q", opts.Path)
	}
	opts.Path = strings.TrimSuffix(opts.Path, "/")
	if len(opts.Profiles) == 0 {
		opts.Profiles = DefaultProfileTypes()
	}
	if opts.DefaultSeconds <= 0 {
		opts.DefaultSeconds = 30
	}

	h := &Handler{
		mux:      http.NewServeMux(),
		opts:     opts,
		profiles: make(map[ProfileType]bool, len(opts.Profiles)),
	}
	for _, pt := range opts.Profiles {
		h.profiles[pt] = true
	}

	if h.profiles[ProfileBlock] {
		runtime.SetBlockProfileRate(1)
	}
	if h.profiles[ProfileMutex] {
		runtime.SetMutexProfileFraction(1)
	}

	h.registerHandlers()
	return h, nil
}

// Path returns the URL prefix the handler expects.
func (h *Handler) Path() string {
	return h.opts.Path
}

// Enabled reports whether a profile type is exposed.
func (h *Handler) Enabled(pt ProfileType) bool {
	return h.profiles[pt]
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.Token != "" && !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="pprof"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// Close turns block and mutex sampling off.
func (h *Handler) Close() error {
	if h.profiles[ProfileBlock] {
		runtime.SetBlockProfileRate(0)
	}
	if h.profiles[ProfileMutex] {
		runtime.SetMutexProfileFraction(0)
	}
	return nil
}

func (h *Handler) authorized(r *http.Request) bool {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.Token)) == 1
}

func (h *Handler) registerHandlers() {
	path := h.opts.Path

	h.mux.HandleFunc(path+"/{$}", pprof.Index)
	h.mux.HandleFunc(path+"/cmdline", pprof.Cmdline)
	h.mux.HandleFunc(path+"/symbol", pprof.Symbol)

	if h.profiles[ProfileCPU] {
		h.mux.HandleFunc(path+"/profile", h.handleCPUProfile)
	}
	for _, pt := range []ProfileType{ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex, ProfileAllocs} {
		if h.profiles[pt] {
			h.mux.Handle(path+"/"+string(pt), pprof.Handler(string(pt)))
		}
	}
}

func (h *Handler) handleCPUProfile(w http.ResponseWriter, r *http.Request) {
	seconds := h.opts.DefaultSeconds
	if s := r.URL.Query().Get("seconds"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			seconds = n
		}
	}
	if seconds > maxCPUSeconds {
		seconds = maxCPUSeconds
	}

	q := r.URL.Query()
	q.Set("seconds", strconv.Itoa(seconds))
	r.URL.RawQuery = q.Encode()

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=cpu_%s.pprof", time.Now().Format("20060102_150405")))
	pprof.Profile(w, r)
}
