package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idealtype-bot/storage"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Name() string { return "fake" }

func (m *mockBackend) Generate(ctx context.Context, req Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestGateway(t *testing.T, backend Backend) (*Gateway, *storage.ImageStore) {
	t.Helper()
	store := storage.NewImageStore(t.TempDir())
	g := NewGateway(backend, store, Config{}, zap.NewNop())
	g.seed = func() int64 { return 42 }
	g.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g, store
}

func TestGatewayGenerate(t *testing.T) {
	backend := &mockBackend{}
	g, store := newTestGateway(t, backend)

	backend.On("Generate", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Mode == ModeTextImage && r.Prompt == "a portrait" &&
			r.Width == 512 && r.Height == 512 && r.Quality == "standard" &&
			r.CFGScale == 7.5 && r.Seed == 42 && r.SourceImage == ""
	})).Return(pngBase64(t), nil).Once()

	ref, err := g.Generate(context.Background(), "a portrait")
	require.NoError(t, err)
	backend.AssertExpectations(t)

	assert.Equal(t, filepath.Join(store.Dir, "a portrait.png"), ref.Path)
	assert.Equal(t, "a portrait", ref.Prompt)
	assert.Equal(t, int64(42), ref.Seed)
	assert.Equal(t, 2024, ref.CreatedAt.Year())
	assert.FileExists(t, ref.Path)
}

func TestGatewayGenerateEmptyPrompt(t *testing.T) {
	backend := &mockBackend{}
	g, _ := newTestGateway(t, backend)

	_, err := g.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	backend.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGatewayGenerateFailures(t *testing.T) {
	backendErr := errors.New("service unavailable")

	tests := []struct {
		name    string
		payload string
		err     error
	}{
		{"backend error", "", backendErr},
		{"invalid base64", "not base64!", nil},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello")), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			g, store := newTestGateway(t, backend)
			backend.On("Generate", mock.Anything, mock.Anything).Return(tt.payload, tt.err).Once()

			ref, err := g.Generate(context.Background(), "prompt")
			assert.Nil(t, ref)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}

			entries, readErr := os.ReadDir(store.Dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries, "nothing is written on failure")
		})
	}
}

func TestGatewayEditFromReference(t *testing.T) {
	backend := &mockBackend{}
	g, store := newTestGateway(t, backend)

	src, err := store.Save("source", []byte("raw-bytes"))
	require.NoError(t, err)

	backend.On("Generate", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Mode == ModeImageVariation &&
			r.SourceImage == base64.StdEncoding.EncodeToString([]byte("raw-bytes")) &&
			r.SourcePath == src
	})).Return(pngBase64(t), nil).Once()

	ref, err := g.EditFromReference(context.Background(), src, "smiling")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir, "smiling.png"), ref.Path)
	backend.AssertExpectations(t)
}

func TestGatewayEditFromMissingReference(t *testing.T) {
	backend := &mockBackend{}
	g, store := newTestGateway(t, backend)

	_, err := g.EditFromReference(context.Background(), filepath.Join(store.Dir, "missing.png"), "smiling")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrSourceUnreadable)
	backend.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGatewaySeedRange(t *testing.T) {
	g := NewGateway(NewMockBackend(), storage.NewImageStore(t.TempDir()), Config{}, zap.NewNop())
	for i := 0; i < 100; i++ {
		s := g.seed()
		assert.GreaterOrEqual(t, s, int64(0))
		assert.LessOrEqual(t, s, int64(MaxSeed))
	}
}

func TestMockBackendProducesPNG(t *testing.T) {
	g, _ := newTestGateway(t, NewMockBackend())

	ref, err := g.Generate(context.Background(), "mock prompt")
	require.NoError(t, err)

	f, err := os.Open(ref.Path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, mockSize, cfg.Width)
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func (f *fakeInvoker) payload(t *testing.T) map[string]any {
	t.Helper()
	require.NotNil(t, f.input)
	var got map[string]any
	require.NoError(t, json.Unmarshal(f.input.Body, &got))
	return got
}

func TestTitanBackend(t *testing.T) {
	payload := pngBase64(t)
	invoker := &fakeInvoker{body: `{"images":["` + payload + `"],"error":null}`}
	backend := newTitanBackend(invoker, "", zap.NewNop())

	out, err := backend.Generate(context.Background(), Request{
		Mode: ModeTextImage, Prompt: "p", Width: 512, Height: 512, Quality: "standard", CFGScale: 7.5, Seed: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Equal(t, DefaultTitanModel, aws.ToString(invoker.input.ModelId))
	assert.Equal(t, "application/json", aws.ToString(invoker.input.ContentType))

	got := invoker.payload(t)
	assert.Equal(t, "TEXT_IMAGE", got["taskType"])
	assert.Equal(t, map[string]any{"text": "p"}, got["textToImageParams"])
	assert.NotContains(t, got, "imageVariationParams")
	cfg := got["imageGenerationConfig"].(map[string]any)
	assert.EqualValues(t, 1, cfg["numberOfImages"])
	assert.EqualValues(t, 7.5, cfg["cfgScale"])
	assert.EqualValues(t, 512, cfg["width"])
	assert.EqualValues(t, 7, cfg["seed"])
	assert.Equal(t, "standard", cfg["quality"])
}

func TestTitanBackendVariation(t *testing.T) {
	invoker := &fakeInvoker{body: `{"images":["abc"]}`}
	backend := newTitanBackend(invoker, "amazon.titan-image-generator-v2:0", zap.NewNop())

	_, err := backend.Generate(context.Background(), Request{Mode: ModeImageVariation, Prompt: "p", SourceImage: "src"})
	require.NoError(t, err)
	assert.Equal(t, "amazon.titan-image-generator-v2:0", aws.ToString(invoker.input.ModelId))

	got := invoker.payload(t)
	assert.Equal(t, "IMAGE_VARIATION", got["taskType"])
	assert.Equal(t, map[string]any{"text": "p", "images": []any{"src"}}, got["imageVariationParams"])
	assert.NotContains(t, got, "textToImageParams")
}

func TestTitanBackendErrors(t *testing.T) {
	invokeErr := errors.New("AccessDeniedException")

	tests := []struct {
		name string
		body string
		err  error
	}{
		{"invoke error", "", invokeErr},
		{"no images", `{"images":[]}`, nil},
		{"error field", `{"images":[],"error":"content filtered"}`, nil},
		{"malformed", `{`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTitanBackend(&fakeInvoker{body: tt.body, err: tt.err}, "", zap.NewNop())
			_, err := backend.Generate(context.Background(), Request{Mode: ModeTextImage, Prompt: "p"})
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestOpenAIBackendGenerate(t *testing.T) {
	payload := pngBase64(t)
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": payload}},
		})
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend(Config{APIKey: "key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	out, err := backend.Generate(context.Background(), Request{Mode: ModeTextImage, Prompt: "p", Width: 512, Height: 512, Quality: "standard"})
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Equal(t, "512x512", got["size"])
	assert.Equal(t, "b64_json", got["response_format"])
	assert.NotContains(t, got, "quality")
}

func TestOpenAIBackendVariation(t *testing.T) {
	payload := pngBase64(t)
	src := filepath.Join(t.TempDir(), "portrait.png")
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, raw, 0o644))

	tests := []struct {
		name   string
		model  string
		path   string
		prompt string
	}{
		{"dall-e-2 uses variations", "", "/v1/images/variations", ""},
		{"gpt-image-1 edits with the prompt", "gpt-image-1", "/v1/images/edits", "smiling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path, prompt string
			var hasImage bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				if err := r.ParseMultipartForm(1 << 20); err == nil {
					prompt = r.FormValue("prompt")
					_, hasImage = r.MultipartForm.File["image"]
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"created": 1,
					"data":    []map[string]any{{"b64_json": payload}},
				})
			}))
			defer srv.Close()

			backend, err := NewOpenAIBackend(Config{APIKey: "key", BaseURL: srv.URL + "/v1", Model: tt.model})
			require.NoError(t, err)

			out, err := backend.Generate(context.Background(), Request{
				Mode: ModeImageVariation, Prompt: "smiling", SourcePath: src, Width: 512, Height: 512,
			})
			require.NoError(t, err)
			assert.Equal(t, payload, out)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.prompt, prompt)
			assert.True(t, hasImage)
		})
	}
}

func TestOpenAIBackendVariationMissingSource(t *testing.T) {
	backend, err := NewOpenAIBackend(Config{APIKey: "key", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), Request{
		Mode: ModeImageVariation, SourcePath: filepath.Join(t.TempDir(), "missing.png"),
	})
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, Config{Backend: "mock"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "mock", b.Name())

	_, err = NewBackend(ctx, Config{Backend: "openai"}, zap.NewNop())
	assert.Error(t, err, "openai needs an API key")

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	b, err = NewBackend(ctx, Config{Backend: "titan", BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "titan", b.Name())

	_, err = NewBackend(ctx, Config{Backend: "sdxl"}, zap.NewNop())
	assert.EqualError(t, err, "unknown image backend: sdxl")
}
