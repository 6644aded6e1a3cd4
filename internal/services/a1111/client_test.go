package a1111_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finisher/internal/services"
	"finisher/internal/services/a1111"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg a1111.Config, opts ...a1111.Option) *a1111.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.BaseURL = server.URL + "/"
	return a1111.NewClient(cfg, opts...)
}

func TestImg2ImgSendsPayload(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sdapi/v1/img2img" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{"cGFzczE="}})
	}, a1111.Config{})

	resp, err := client.Img2Img(context.Background(), a1111.Img2ImgRequest{
		InitImages: []string{"c3Jj"},
		ScriptName: "SD upscale",
		ScriptArgs: []any{"", 64, "Lanczos", 2.5},
		BatchSize:  1,
	})
	if err != nil {
		t.Fatalf("Img2Img: %v", err)
	}
	if len(resp.Images) != 1 || resp.Images[0] != "cGFzczE=" {
		t.Fatalf("unexpected images: %v", resp.Images)
	}
	if got["script_name"] != "SD upscale" || got["save_images"] != false {
		t.Fatalf("unexpected payload: %v", got)
	}
	args, _ := got["script_args"].([]any)
	if len(args) != 4 || args[2] != "Lanczos" {
		t.Fatalf("unexpected script args: %v", got["script_args"])
	}
}

func TestProgressParsesSnapshot(t *testing.T) {
	fetched := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/progress" || r.URL.Query().Get("skip_current_image") != "true" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"progress":0.42,"eta_relative":12.5,"state":{"skipped":false,"interrupted":true,` +
			`"job_count":1,"job_no":0,"job_timestamp":"20250301120005","sampling_step":10,"sampling_steps":25},"textinfo":null}`))
	}, a1111.Config{}, a1111.WithClock(func() time.Time { return fetched }), a1111.WithLocation(time.UTC))

	snap, err := client.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if snap.Progress != 0.42 || !snap.Interrupted || snap.SamplingStep != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ETA != 12500*time.Millisecond {
		t.Fatalf("unexpected eta: %s", snap.ETA)
	}
	want := time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC)
	if !snap.ServerTimestamp.Equal(want) {
		t.Fatalf("unexpected server timestamp: %s", snap.ServerTimestamp)
	}
	if !snap.FetchedAt.Equal(fetched) {
		t.Fatalf("unexpected fetched at: %s", snap.FetchedAt)
	}
}

func TestProgressClampsAndToleratesBadTimestamp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"progress":1.7,"state":{"job_timestamp":"0"}}`))
	}, a1111.Config{})

	snap, err := client.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if snap.Progress != 1 {
		t.Fatalf("expected clamped progress, got %v", snap.Progress)
	}
	if snap.HasServerTimestamp() {
		t.Fatalf("expected unparsable timestamp, got %s", snap.ServerTimestamp)
	}
}

func TestServerErrorCarriesDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"Invalid upscaler"}`))
	}, a1111.Config{})

	err := client.Interrupt(context.Background())
	if !errors.Is(err, services.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid upscaler") {
		t.Fatalf("expected server message in %q", err.Error())
	}
	if a1111.StatusCode(err) != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status code: %d", a1111.StatusCode(err))
	}
}

func TestTransportErrorOnUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := a1111.NewClient(a1111.Config{BaseURL: url})
	_, err := client.Progress(context.Background())
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if services.Kind(err) != services.KindTransport {
		t.Fatalf("unexpected kind: %s", services.Kind(err))
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, a1111.Config{StatusTimeout: 50 * time.Millisecond})
	defer close(release)

	err := client.Interrupt(context.Background())
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %q", err.Error())
	}
}

func TestOptionDiscovery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/upscalers":
			_, _ = w.Write([]byte(`[{"name":"None"},{"name":"Lanczos"},{"name":"R-ESRGAN 4x+"}]`))
		case "/sdapi/v1/sd-models":
			_, _ = w.Write([]byte(`[{"title":"v1-5.safetensors [abc]","model_name":"v1-5"}]`))
		case "/sdapi/v1/samplers":
			_, _ = w.Write([]byte(`[{"name":"Euler a"},{"name":"DPM++ 2M"}]`))
		case "/sdapi/v1/schedulers":
			_, _ = w.Write([]byte(`[{"name":"automatic","label":"Automatic"}]`))
		case "/sdapi/v1/memory":
			_, _ = w.Write([]byte(`{"ram":{}}`))
		default:
			http.NotFound(w, r)
		}
	}, a1111.Config{})

	ctx := context.Background()
	upscalers, err := client.Upscalers(ctx)
	if err != nil || len(upscalers) != 3 || upscalers[2] != "R-ESRGAN 4x+" {
		t.Fatalf("unexpected upscalers: %v %v", upscalers, err)
	}
	models, err := client.Models(ctx)
	if err != nil || len(models) != 1 || models[0] != "v1-5.safetensors [abc]" {
		t.Fatalf("unexpected models: %v %v", models, err)
	}
	samplers, err := client.Samplers(ctx)
	if err != nil || len(samplers) != 2 {
		t.Fatalf("unexpected samplers: %v %v", samplers, err)
	}
	schedulers, err := client.Schedulers(ctx)
	if err != nil || len(schedulers) != 1 || schedulers[0] != "automatic" {
		t.Fatalf("unexpected schedulers: %v %v", schedulers, err)
	}
	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
