package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/boltlabs/runtimed/pkg/dokploy"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
)

type fakeProbe struct {
	err error
}

func (f *fakeProbe) ListProjects(context.Context, string) ([]dokploy.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []dokploy.Project{}, nil
}

func TestHealthcheckProbesPlatform(t *testing.T) {
	t.Parallel()

	handler := HealthcheckHandler(&fakeProbe{}, remoteConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "ok", body.Get("status").String())
	assert.Equal(t, "dokploy", body.Get("provider").String())
	assert.Equal(t, "ok", body.Get("platform").String())
}

func TestHealthcheckDegradesOnPlatformFailure(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{err: rterrors.NewInternal("platform down", nil)}
	handler := HealthcheckHandler(probe, remoteConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code, "a down platform never fails the broker probe")
	assert.Equal(t, "unreachable", gjson.Parse(rec.Body.String()).Get("platform").String())
}

func TestHealthcheckSkipsProbeInWebcontainerMode(t *testing.T) {
	t.Parallel()

	handler := HealthcheckHandler(nil, webcontainerConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "webcontainer", body.Get("provider").String())
	assert.False(t, body.Get("platform").Exists())
}
