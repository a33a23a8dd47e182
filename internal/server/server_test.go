package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/pipeline"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
)

type fixedProbe float64

func (p fixedProbe) Measure(ctx context.Context, path string) (float64, error) {
	return float64(p), nil
}

type staticEngine string

func (e staticEngine) Name() string { return "static" }

func (e staticEngine) Transcribe(ctx context.Context, path string) (string, error) {
	return string(e), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "autoecho.db")
	cfg.Upload.TempDir = t.TempDir()
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_RunsPipelineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, quietLogger(),
		WithEngine(staticEngine("minutes of the meeting")), WithProbe(fixedProbe(12)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Store.Close() })

	res, err := c.Pipeline.Run(context.Background(), pipeline.Request{
		Account:  "someone@example.com",
		Filename: "sync.flac",
		Body:     strings.NewReader("fLaC"),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Completed, res.Job.State)
	assert.Contains(t, string(res.Artifact.Content), "minutes of the meeting")

	events, err := c.Store.ListAuditEvents(context.Background(), store.AuditFilter{Action: "job.completed"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Job.ID, events[0].JobID)
}

func TestBuild_TextArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Artifact.Format = "text"
	c, err := Build(context.Background(), cfg, quietLogger(),
		WithEngine(staticEngine("hello")), WithProbe(fixedProbe(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Store.Close() })

	res, err := c.Pipeline.Run(context.Background(), pipeline.Request{Filename: "a.ogg", Body: strings.NewReader("OggS")})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Artifact.Filename, ".txt"))
}

func TestNew_WebhookMountedOnlyWhenBillingEnabled(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(context.Background(), cfg, quietLogger(), WithEngine(staticEngine("x")), WithProbe(fixedProbe(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.components.Store.Close() })

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg2 := testConfig(t)
	cfg2.Billing.Enabled = true
	cfg2.Billing.StripeWebhookSecret = "whsec_x"
	srv2, err := New(context.Background(), cfg2, quietLogger(), WithEngine(staticEngine("x")), WithProbe(fixedProbe(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv2.components.Store.Close() })

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "t=1,v1=00")
	srv2.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(context.Background(), cfg, quietLogger(), WithEngine(staticEngine("x")), WithProbe(fixedProbe(1)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The store is closed on the way out.
	assert.Error(t, srv.components.Store.Ping(context.Background()))
}

func TestPurgeAudit(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(context.Background(), cfg, quietLogger(), WithEngine(staticEngine("x")), WithProbe(fixedProbe(1)))
	require.NoError(t, err)
	st := srv.components.Store
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.LogAuditEvent(ctx, &store.AuditEvent{ID: "old", Action: "job.completed", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, st.LogAuditEvent(ctx, &store.AuditEvent{ID: "new", Action: "job.completed", CreatedAt: time.Now()}))

	srv.purgeAudit(ctx, 24*time.Hour)

	events, err := st.ListAuditEvents(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].ID)
}

func TestBuild_BadStorageDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "mysql"
	_, err := Build(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}
