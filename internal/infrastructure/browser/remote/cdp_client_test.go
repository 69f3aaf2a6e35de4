package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreschagin/link-preview/pkg/logger"
)

// fakeCDPClient ведет себя как cdp.Client: отмененный контекст
// не доходит до браузера
type fakeCDPClient struct {
	events chan *cdp.Event

	mu       sync.Mutex
	calls    []string
	disposed []string
	failOn   string
}

func newFakeCDPClient(t *testing.T) *fakeCDPClient {
	t.Helper()

	client := &fakeCDPClient{events: make(chan *cdp.Event)}
	t.Cleanup(func() { close(client.events) })
	return client
}

func (c *fakeCDPClient) Event() <-chan *cdp.Event {
	return c.events
}

func (c *fakeCDPClient) Call(ctx context.Context, _ string, method string, params interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)

	if method == c.failOn {
		return nil, errors.New("cdp failure")
	}

	switch method {
	case "Target.createBrowserContext":
		return []byte(`{"browserContextId":"incognito-1"}`), nil
	case "Target.disposeBrowserContext":
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		var req struct {
			BrowserContextID string `json:"browserContextId"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		c.disposed = append(c.disposed, req.BrowserContextID)
	}
	return []byte(`{}`), nil
}

func (c *fakeCDPClient) disposedContexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.disposed...)
}

func connectedProvider(t *testing.T, client *fakeCDPClient) *Provider {
	t.Helper()

	root := rod.New().Client(client)
	require.NoError(t, root.Connect())

	provider := NewProvider(Config{RemoteURL: "ws://chrome:9222"}, logger.New("error"))
	provider.root = root
	return provider
}

func TestBrowser_CloseDisposesIncognitoContext(t *testing.T) {
	client := newFakeCDPClient(t)
	provider := connectedProvider(t, client)

	browser, err := provider.Launch(context.Background())
	require.NoError(t, err)

	require.NoError(t, browser.Close())
	assert.Equal(t, []string{"incognito-1"}, client.disposedContexts())

	// второй Close не шлет повторный dispose
	require.NoError(t, browser.Close())
	assert.Len(t, client.disposedContexts(), 1)
}

func TestBrowser_CloseAfterRequestCanceled(t *testing.T) {
	client := newFakeCDPClient(t)
	provider := connectedProvider(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	browser, err := provider.Launch(ctx)
	require.NoError(t, err)

	// клиент отключился посреди захвата
	cancel()

	require.NoError(t, browser.Close())
	assert.Equal(t, []string{"incognito-1"}, client.disposedContexts())
}

func TestBrowser_CloseReportsDisposeFailure(t *testing.T) {
	client := newFakeCDPClient(t)
	client.failOn = "Target.disposeBrowserContext"
	provider := connectedProvider(t, client)

	browser, err := provider.Launch(context.Background())
	require.NoError(t, err)

	err = browser.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dispose browser context")
}

func TestLaunch_IncognitoFailure(t *testing.T) {
	client := newFakeCDPClient(t)
	client.failOn = "Target.createBrowserContext"
	provider := connectedProvider(t, client)

	_, err := provider.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create incognito context")
	assert.Empty(t, client.disposedContexts())
}
