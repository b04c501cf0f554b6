package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/application/command"
	"github.com/Xeideverme/galpao/internal/application/criteria"
	"github.com/Xeideverme/galpao/internal/application/query"
	"github.com/Xeideverme/galpao/internal/application/saga"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/memory"
	"github.com/Xeideverme/galpao/internal/interface/http/handlers"
	"github.com/Xeideverme/galpao/pkg/logger"
)

const adminKey = "s3cret-admin"

var now = time.Date(2026, 7, 7, 10, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	store   *memory.Store
	members *memory.MemberSource
	health  *handlers.CompositeHealthChecker
	redeem  bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := shared.FixedClock(now)
	ts := &testServer{
		store:   memory.NewStore(memory.WithClock(clock)),
		members: memory.NewMemberSource(),
		health:  handlers.NewCompositeHealthChecker("test"),
		redeem:  true,
	}
	ts.members.AddMember(member.Member{ID: "ana", Name: "Ana", CreatedAt: now})

	log := logger.Nop()
	catalog, unlocks, ledger := ts.store.Catalog(), ts.store.Unlocks(), ts.store.Progress()
	eval := criteria.NewEvaluator(ts.members, ledger, clock, log)
	flow := saga.NewUnlockFlowSaga(catalog, unlocks, ledger, eval, nil, clock, log, saga.UnlockFlowConfig{})

	cfg := DefaultConfig()
	cfg.AdminKeys = []string{adminKey}
	cfg.RateLimitPerMinute = 0

	ts.Server = NewServer(cfg, Dependencies{
		SubmitEvent: command.NewSubmitEventHandler(ts.members, flow, clock, log),
		Catalog:     command.NewCatalogHandler(catalog, nil, clock, log),
		Grant: command.NewGrantHandler(command.GrantHandlerDeps{
			Catalog: catalog, Members: ts.members, Ledger: ledger, Flow: flow,
			RedeemEnabled: func() bool { return ts.redeem }, Logger: log,
		}),
		MarkSeen:             command.NewMarkSeenHandler(unlocks, clock),
		GetProgress:          query.NewGetProgressHandler(ts.members, ledger, log),
		ListUnlocks:          query.NewListUnlocksHandler(unlocks),
		PendingNotifications: query.NewPendingNotificationsHandler(unlocks),
		GetLeaderboard:       query.NewGetLeaderboardHandler(ts.store.Leaderboard(), ts.members, nil, clock, log),
		GetCatalog:           query.NewGetCatalogHandler(catalog),
		GetStatistics:        query.NewGetStatisticsHandler(catalog, unlocks, ledger),
		Logger:               log,
		HealthChecker:        ts.health,
	})
	return ts
}

type response struct {
	status int
	header map[string]string
	body   []byte
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, dst), string(r.body))
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var e errorResponse
	r.decode(t, &e)
	return e.Error.Code
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	h := map[string]string{}
	for k := range resp.Header {
		h[k] = resp.Header.Get(k)
	}
	return response{status: resp.StatusCode, header: h, body: data}
}

const base = "/api/gamificacao"

func TestSubmitEvent_Endpoint(t *testing.T) {
	ts := newTestServer(t)

	r := ts.do(t, "POST", base+"/events", `{"member_id":"ana","kind":"checkin"}`)
	require.Equal(t, 200, r.status, string(r.body))

	var body submitEventResponse
	r.decode(t, &body)
	assert.Equal(t, 5, body.PointsAdded)
	assert.Equal(t, 1, body.Level)
	assert.NotNil(t, body.NewlyUnlocked)
	require.NotNil(t, body.Streak)
	assert.Equal(t, 1, body.Streak.Current)
}

func TestSubmitEvent_Errors(t *testing.T) {
	ts := newTestServer(t)

	r := ts.do(t, "POST", base+"/events", `{"kind":"checkin"}`)
	assert.Equal(t, 400, r.status)
	assert.Equal(t, "validation_error", r.errorCode(t))

	r = ts.do(t, "POST", base+"/events", `{not json`)
	assert.Equal(t, 400, r.status)

	r = ts.do(t, "POST", base+"/events", `{"member_id":"ghost","kind":"checkin"}`)
	assert.Equal(t, 404, r.status)
	assert.Equal(t, "not_found", r.errorCode(t))
}

func TestCatalog_AdminKey(t *testing.T) {
	ts := newTestServer(t)
	body := `{"name":"Primeiro Passo","category":"checkin","rule_kind":"total_checkins","threshold":1,"points":10}`

	r := ts.do(t, "POST", base+"/conquistas", body)
	assert.Equal(t, 401, r.status)

	r = ts.do(t, "POST", base+"/conquistas", body, "X-API-Key", "wrong")
	assert.Equal(t, 401, r.status)

	r = ts.do(t, "POST", base+"/conquistas", body, "X-API-Key", adminKey)
	require.Equal(t, 201, r.status, string(r.body))

	r = ts.do(t, "POST", base+"/conquistas", body, "Authorization", "Bearer "+adminKey)
	assert.Equal(t, 409, r.status)
	assert.Equal(t, "conflict", r.errorCode(t))

	r = ts.do(t, "GET", base+"/conquistas?categoria=checkin", "")
	require.Equal(t, 200, r.status)
	var defs []map[string]any
	r.decode(t, &defs)
	assert.Len(t, defs, 1)
}

func TestCatalog_PrerequisiteMissingIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	body := `{"name":"Segundo","category":"checkin","rule_kind":"total_checkins","threshold":2,"points":10,"prerequisites":["nope"]}`

	r := ts.do(t, "POST", base+"/conquistas", body, "X-API-Key", adminKey)
	assert.Equal(t, 400, r.status)
	assert.Equal(t, "invalid_prerequisite", r.errorCode(t))
}

func TestProgress_Endpoint(t *testing.T) {
	ts := newTestServer(t)

	r := ts.do(t, "GET", base+"/aluno/ana", "")
	require.Equal(t, 200, r.status, string(r.body))
	assert.Contains(t, r.header["Cache-Control"], "no-store")

	var view query.ProgressView
	r.decode(t, &view)
	assert.Equal(t, "Ana", view.Name)
	assert.Equal(t, 1, view.Level)

	r = ts.do(t, "GET", base+"/aluno/ghost", "")
	assert.Equal(t, 404, r.status)
}

func TestMarkSeen_BareArray(t *testing.T) {
	ts := newTestServer(t)

	r := ts.do(t, "POST", base+"/aluno/ana/marcar-notificacao-vista", `["a1","a2"]`)
	require.Equal(t, 200, r.status, string(r.body))
	var out map[string]int
	r.decode(t, &out)
	assert.Equal(t, 0, out["marked"])

	r = ts.do(t, "POST", base+"/aluno/ana/marcar-notificacao-vista", `{"achievement_ids":["a1"]}`)
	assert.Equal(t, 200, r.status)

	r = ts.do(t, "POST", base+"/aluno/ana/marcar-notificacao-vista", `"a1"`)
	assert.Equal(t, 400, r.status)
}

func TestRedeemCode_Endpoint(t *testing.T) {
	ts := newTestServer(t)

	r := ts.do(t, "POST", base+"/aluno/ana/codigo", `{"code":"nada"}`)
	assert.Equal(t, 400, r.status)

	ts.redeem = false
	r = ts.do(t, "POST", base+"/aluno/ana/codigo", `{"code":"nada"}`)
	assert.Equal(t, 403, r.status)
	assert.Equal(t, "forbidden", r.errorCode(t))
}

func TestRanking_Endpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", base+"/events", `{"member_id":"ana","kind":"assessment"}`)

	r := ts.do(t, "GET", base+"/ranking?periodo=semanal&limite=5", "")
	require.Equal(t, 200, r.status, string(r.body))
	var body rankingResponse
	r.decode(t, &body)
	assert.Equal(t, "this_week", string(body.Period))
	require.Len(t, body.Ranking, 1)
	assert.Equal(t, int64(20), body.Ranking[0].Points)

	r = ts.do(t, "GET", base+"/ranking?periodo=anual", "")
	assert.Equal(t, 400, r.status)
}

func TestUnavailableHidesCause(t *testing.T) {
	ts := newTestServer(t)
	ts.store.Fail("Standings", errors.New("pq: password authentication failed for user galpao"))

	r := ts.do(t, "GET", base+"/ranking", "")
	assert.Equal(t, 503, r.status)
	assert.Equal(t, "5", r.header["Retry-After"])
	assert.Equal(t, "temporarily_unavailable", r.errorCode(t))
	assert.NotContains(t, string(r.body), "password")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.health.AddCheck("store", handlers.NewPingCheck(ts.store))
	ts.health.AddOptionalCheck("redis", func(context.Context) error { return errors.New("down") })

	r := ts.do(t, "GET", "/health", "")
	require.Equal(t, 200, r.status)
	var status handlers.HealthStatus
	r.decode(t, &status)
	assert.True(t, status.Healthy)
	assert.False(t, status.Checks["redis"].Healthy)

	ts.health.AddCheck("members", func(context.Context) error { return errors.New("mongo down") })
	r = ts.do(t, "GET", base+"/health", "")
	assert.Equal(t, 503, r.status)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrInvalidEvent, 400},
		{shared.ErrUnknownRuleKind, 400},
		{shared.ErrAchievementNotFound, 404},
		{shared.ErrCatalogEditConflict, 409},
		{shared.ErrAchievementInactive, 409},
		{shared.ErrGrantIncomplete, 503},
		{context.DeadlineExceeded, 503},
		{shared.ErrRedeemDisabled, 403},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
