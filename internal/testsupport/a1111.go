package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// FakeServer imitates the subset of the generation server API the controller
// uses. Passes succeed by default; progress reads idle.
type FakeServer struct {
	URL string

	mu             sync.Mutex
	img2imgCalls   int
	extraCalls     int
	interruptCalls int
	progressCalls  int
	lastExtra      map[string]any
	lastImg2Img    map[string]any
	img2imgStatus  int
	img2imgDetail  string
	extraStatus    int
	interruptFails bool
	blockImg2Img   bool
	release        chan struct{}
	progress       float64
	jobTimestamp   string
	upscalers      []string
	samplers       []string
	img2imgStarted chan struct{}
}

// NewFakeServer starts a fake server that is closed when the test ends.
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()
	fake := &FakeServer{
		release:        make(chan struct{}),
		upscalers:      []string{"None", "Lanczos", "R-ESRGAN 4x+"},
		samplers:       []string{"Euler a", "DPM++ 2M"},
		img2imgStarted: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sdapi/v1/img2img", fake.handleImg2Img)
	mux.HandleFunc("/sdapi/v1/extra-single-image", fake.handleExtra)
	mux.HandleFunc("/sdapi/v1/progress", fake.handleProgress)
	mux.HandleFunc("/sdapi/v1/interrupt", fake.handleInterrupt)
	mux.HandleFunc("/sdapi/v1/upscalers", fake.namesHandler(func() []string { return fake.upscalers }))
	mux.HandleFunc("/sdapi/v1/samplers", fake.namesHandler(func() []string { return fake.samplers }))
	mux.HandleFunc("/sdapi/v1/schedulers", fake.namesHandler(func() []string { return []string{"Automatic", "Karras"} }))
	mux.HandleFunc("/sdapi/v1/sd-models", func(w http.ResponseWriter, r *http.Request) {
		writeFakeJSON(w, http.StatusOK, []map[string]string{{"title": "v1-5-pruned.safetensors [6ce0161689]", "model_name": "v1-5-pruned"}})
	})
	mux.HandleFunc("/sdapi/v1/memory", func(w http.ResponseWriter, r *http.Request) {
		writeFakeJSON(w, http.StatusOK, map[string]any{"ram": map[string]any{"free": 1}})
	})
	server := httptest.NewServer(mux)
	fake.URL = server.URL
	t.Cleanup(func() {
		fake.Unblock()
		server.Close()
	})
	return fake
}

// FailImg2Img makes Pass 1 answer with the given status and detail.
func (f *FakeServer) FailImg2Img(status int, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.img2imgStatus = status
	f.img2imgDetail = detail
}

// FailExtra makes Pass 2 answer with the given status.
func (f *FakeServer) FailExtra(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extraStatus = status
}

// FailInterrupt makes the interrupt endpoint answer 500.
func (f *FakeServer) FailInterrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptFails = true
}

// BlockImg2Img holds Pass 1 requests open until an interrupt or Unblock.
// While held, progress reports activity stamped with the request time.
func (f *FakeServer) BlockImg2Img() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockImg2Img = true
}

// Unblock releases any held Pass 1 request.
func (f *FakeServer) Unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.release:
	default:
		close(f.release)
	}
	f.progress = 0
}

// SetProgress fixes the reported progress and batch timestamp.
func (f *FakeServer) SetProgress(progress float64, jobTimestamp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = progress
	f.jobTimestamp = jobTimestamp
}

// SetUpscalers replaces the advertised upscaler list.
func (f *FakeServer) SetUpscalers(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upscalers = append([]string(nil), names...)
}

// Img2ImgStarted receives a value each time a Pass 1 request arrives.
func (f *FakeServer) Img2ImgStarted() <-chan struct{} {
	return f.img2imgStarted
}

// FakeCounts reports how often each endpoint was called.
type FakeCounts struct {
	Img2Img   int
	Extra     int
	Interrupt int
	Progress  int
}

// Counts returns current call counts.
func (f *FakeServer) Counts() FakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FakeCounts{Img2Img: f.img2imgCalls, Extra: f.extraCalls, Interrupt: f.interruptCalls, Progress: f.progressCalls}
}

// LastExtra returns the most recent Pass 2 payload.
func (f *FakeServer) LastExtra() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastExtra
}

// LastImg2Img returns the most recent Pass 1 payload.
func (f *FakeServer) LastImg2Img() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastImg2Img
}

func (f *FakeServer) handleImg2Img(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)

	f.mu.Lock()
	f.img2imgCalls++
	f.lastImg2Img = payload
	status, detail, block := f.img2imgStatus, f.img2imgDetail, f.blockImg2Img
	release := f.release
	if block {
		f.progress = 0.3
		f.jobTimestamp = time.Now().Format("20060102150405")
	}
	f.mu.Unlock()

	select {
	case f.img2imgStarted <- struct{}{}:
	default:
	}

	if status != 0 {
		writeFakeJSON(w, status, map[string]string{"detail": detail})
		return
	}
	if block {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"images": []string{"cGFzczEtcmVzdWx0"}, "info": "{}"})
}

func (f *FakeServer) handleExtra(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)

	f.mu.Lock()
	f.extraCalls++
	f.lastExtra = payload
	status := f.extraStatus
	f.mu.Unlock()

	if status != 0 {
		writeFakeJSON(w, status, map[string]string{"error": "extras failed"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"image": "ZmluYWw=", "html_info": ""})
}

func (f *FakeServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.progressCalls++
	progress, ts := f.progress, f.jobTimestamp
	f.mu.Unlock()

	writeFakeJSON(w, http.StatusOK, map[string]any{
		"progress":     progress,
		"eta_relative": 0,
		"state": map[string]any{
			"interrupted":   false,
			"skipped":       false,
			"job_count":     0,
			"job_no":        0,
			"job_timestamp": ts,
		},
		"textinfo": nil,
	})
}

func (f *FakeServer) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.interruptCalls++
	fails := f.interruptFails
	f.mu.Unlock()

	if fails {
		writeFakeJSON(w, http.StatusInternalServerError, map[string]string{"error": "interrupt unavailable"})
		return
	}
	f.Unblock()
	writeFakeJSON(w, http.StatusOK, map[string]any{})
}

func (f *FakeServer) namesHandler(names func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := names()
		f.mu.Unlock()
		items := make([]map[string]string, 0, len(list))
		for _, name := range list {
			items = append(items, map[string]string{"name": name})
		}
		writeFakeJSON(w, http.StatusOK, items)
	}
}

func writeFakeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
