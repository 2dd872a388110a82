package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scheduled-scraper/internal/app"
	"github.com/JakeFAU/scheduled-scraper/internal/config"
	"github.com/JakeFAU/scheduled-scraper/internal/job"
	"github.com/JakeFAU/scheduled-scraper/internal/page"
)

type fakeFetcher struct {
	html string
	err  error
}

func (f fakeFetcher) Fetch(context.Context, string) (*page.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return page.Parse(f.html)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// useFakes points the database at a closed port and swaps the browser for f.
func useFakes(t *testing.T, f fakeFetcher) {
	t.Helper()
	t.Setenv("URL", "https://example.com/prices")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("DATABASE_HOST", "127.0.0.1")
	t.Setenv("DATABASE_PORT", fmt.Sprint(freePort(t)))
	t.Setenv("SCRAPER_DATABASE_CHECK_TIMEOUT", "2s")

	orig := newApp
	newApp = func(ctx context.Context, s config.Settings) (*app.App, error) {
		return app.New(ctx, s, app.WithLogger(zap.NewNop()), app.WithFetcher(f))
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRunPrintsDegradedReport(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html><body>Milk is cheap today</body></html>"})

	out, err := execute(context.Background(), t, "run", "--print")
	require.NoError(t, err)

	var report job.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, job.OutcomeDegraded, report.Outcome)
	assert.Equal(t, "Milk is cheap today", report.Excerpt)
	assert.Equal(t, "https://example.com/prices", report.URL)
}

func TestRunFailsOnFetchError(t *testing.T) {
	useFakes(t, fakeFetcher{err: errors.New("navigation timed out")})

	_, err := execute(context.Background(), t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation timed out")
}

func TestRunFailsOnDatabaseWhenConfigured(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html><body>ok</body></html>"})
	t.Setenv("SCRAPER_JOB_FAIL_ON_DATABASE_ERROR", "true")

	_, err := execute(context.Background(), t, "run")
	require.ErrorIs(t, err, job.ErrDatabaseCheck)
}

func TestRunRejectsInvalidTrigger(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html></html>"})

	_, err := execute(context.Background(), t, "run", "--trigger", "{nope")
	require.Error(t, err)
}

func TestConfigErrorsStopBeforeRun(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html></html>"})
	t.Setenv("DATABASE_PORT", "not-a-port")

	_, err := execute(context.Background(), t, "run")
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLambdaRegistersHandler(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html><body>hello</body></html>"})

	var handler func(context.Context, json.RawMessage) error
	orig := lambdaStart
	lambdaStart = func(h any) { handler = h.(func(context.Context, json.RawMessage) error) }
	t.Cleanup(func() { lambdaStart = orig })

	cmd, closeApp := newRootCmd()
	defer closeApp()
	cmd.SetArgs([]string{"lambda", "--env-file", ""})
	cmd.PersistentPostRun = nil
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.NotNil(t, handler)

	require.NoError(t, handler(context.Background(), json.RawMessage(`{"detail-type":"Scheduled Event"}`)))
}

func TestLambdaHandlerReturnsFetchErrors(t *testing.T) {
	useFakes(t, fakeFetcher{err: errors.New("browser launch failed")})

	s, err := config.Load("")
	require.NoError(t, err)
	a, err := newApp(context.Background(), s)
	require.NoError(t, err)
	defer a.Close()

	err = lambdaHandler(a)(context.Background(), nil)
	require.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	useFakes(t, fakeFetcher{html: "<html><body>served</body></html>"})
	port := freePort(t)
	t.Setenv("SCRAPER_SERVER_PORT", fmt.Sprint(port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, t, "serve")
		done <- err
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/invoke", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	var report job.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "served", report.Excerpt)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not stop")
	}
}
