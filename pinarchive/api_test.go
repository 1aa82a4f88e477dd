package pinarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAPI(t testing.TB, p *PinArchive) *API {
	t.Helper()
	api, err := newAPI(p, p.config.API)
	require.NoError(t, err)
	return api
}

func doRequest(t testing.TB, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	api := newTestAPI(t, p)

	w := doRequest(t, api, apiHealthCheck)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(xRequestIDHeader), requestIDLength)

	var rv healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rv))
	assert.Equal(t, Version, rv.Version)
	assert.True(t, rv.DatabaseReady)
	assert.False(t, rv.DiscordGatewayConnected)

	p.discord.connected.Store(true)
	w = doRequest(t, api, apiHealthCheck)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rv))
	assert.True(t, rv.DiscordGatewayConnected)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	api := newTestAPI(t, p)
	p.metrics.pins.Inc()

	w := doRequest(t, api, apiMetrics)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "pin_archive_pins_total 1")
	assert.Contains(t, body, "pin_archive_gateway_connected 0")
}

func TestAPI_Guilds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, session := newTestPinArchive(t)
	api := newTestAPI(t, p)
	g := newTestGuild(t, p, session)

	msg := newTestMessage(t, g, "archived")
	require.NoError(t, p.archiveMessage(ctx, msg))

	t.Run(
		"list", func(t *testing.T) {
			w := doRequest(t, api, apiPrefix+apiPathGuilds)
			require.Equal(t, http.StatusOK, w.Code)
			var configs []GuildConfig
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &configs))
			require.Len(t, configs, 1)
			assert.Equal(t, g.GuildID, configs[0].GuildID)
		},
	)

	t.Run(
		"get", func(t *testing.T) {
			w := doRequest(t, api, fmt.Sprintf("%s/guilds/%s", apiPrefix, g.GuildID))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var rv guildResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rv))
			require.NotNil(t, rv.Config)
			assert.Equal(t, g.ArchiveChannelID, *rv.Config.ArchiveChannelID)
			require.Len(t, rv.Archives, 1)
			assert.Equal(t, msg.ID, rv.Archives[0].MessageID)
		},
	)

	t.Run(
		"archives", func(t *testing.T) {
			w := doRequest(t, api, fmt.Sprintf("%s/guilds/%s/archives?limit=5", apiPrefix, g.GuildID))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var archives []ArchivedMessage
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &archives))
			require.Len(t, archives, 1)
			assert.Equal(t, g.ArchiveChannelID, archives[0].ArchiveChannelID)
		},
	)

	t.Run(
		"limit bounds", func(t *testing.T) {
			for _, query := range []string{"", "?limit=1", "?limit=100"} {
				w := doRequest(t, api, fmt.Sprintf("%s/guilds/%s/archives%s", apiPrefix, g.GuildID, query))
				assert.Equal(t, http.StatusOK, w.Code, query)
			}
		},
	)

	t.Run(
		"not initialized", func(t *testing.T) {
			w := doRequest(t, api, fmt.Sprintf("%s/guilds/%s", apiPrefix, newSnowflake(t)))
			assert.Equal(t, http.StatusNotFound, w.Code)
		},
	)

	t.Run(
		"invalid guild id", func(t *testing.T) {
			for _, id := range []string{"abc", "123", "-1"} {
				w := doRequest(t, api, fmt.Sprintf("%s/guilds/%s", apiPrefix, id))
				assert.Equal(t, http.StatusBadRequest, w.Code, id)
			}
		},
	)

	t.Run(
		"invalid limit", func(t *testing.T) {
			for _, limit := range []string{"0", "101", "x"} {
				w := doRequest(
					t,
					api,
					fmt.Sprintf("%s/guilds/%s/archives?limit=%s", apiPrefix, g.GuildID, limit),
				)
				assert.Equal(t, http.StatusBadRequest, w.Code, limit)
			}
		},
	)
}

func TestAPI_Pprof(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)

	w := doRequest(t, newTestAPI(t, p), pprofPrefix+"/pprof/")
	assert.Equal(t, http.StatusNotFound, w.Code)

	p.config.API.Pprof = true
	w = doRequest(t, newTestAPI(t, p), pprofPrefix+"/pprof/")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_DatabaseNotReady(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	api := newTestAPI(t, p)
	p.store = nil

	w := doRequest(t, api, apiPrefix+apiPathGuilds)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_RateLimit(t *testing.T) {
	t.Parallel()
	p, _ := newTestPinArchive(t)
	p.config.API.RequestsPerSecond = 1
	api := newTestAPI(t, p)

	w := doRequest(t, api, apiHealthCheck)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, api, apiHealthCheck)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestValidSnowflake(t *testing.T) {
	t.Parallel()
	assert.True(t, validSnowflake(newSnowflake(t)))
	assert.True(t, validSnowflake("80351110224678912"))
	assert.False(t, validSnowflake(""))
	assert.False(t, validSnowflake("12345"))
	assert.False(t, validSnowflake("not a number"))
	assert.False(t, validSnowflake(strings.Repeat("9", 30)))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	a, err := generateRandomHexString(requestIDLength)
	require.NoError(t, err)
	b, err := generateRandomHexString(requestIDLength)
	require.NoError(t, err)
	assert.Len(t, a, requestIDLength)
	assert.NotEqual(t, a, b)

	odd, err := generateRandomHexString(5)
	require.NoError(t, err)
	assert.Len(t, odd, 6)
}
