package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"yourturn-backend/clock"
	"yourturn-backend/database"
	"yourturn-backend/events"
	"yourturn-backend/repository"
	"yourturn-backend/schedule"
	"yourturn-backend/service"
)

const (
	testSlotKey  = "2024-06-01_0900"
	testAdminKey = "admin-secret"
)

var testOpenAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	clock  *clock.Fake
}

// SetupTestEnvironment 内存SQLite + 固定时钟 + 完整路由
func SetupTestEnvironment(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:http_%s?mode=memory&cache=shared", name), logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	markers, err := schedule.ParseMarkers("09:00,13:00,21:00")
	require.NoError(t, err)
	registry, err := schedule.NewRegistry(markers, 20*time.Second, time.UTC)
	require.NoError(t, err)

	clk := clock.NewFake(testOpenAt.Add(time.Second))
	repo := repository.NewGormRepository(db)
	emitter := events.Nop{}
	svc := Services{
		Arbitration: service.NewArbitrationService(repo, registry, clk, emitter),
		Questions:   service.NewQuestionService(repo, registry, clk, emitter, nil, service.QuestionPolicy{}),
		Voting:      service.NewVotingService(repo, clk, emitter, nil),
		Results:     service.NewResultsService(repo, registry, clk, nil),
		Registry:    registry,
		Clock:       clk,
	}
	if opts.AdminKey == "" {
		opts.AdminKey = testAdminKey
	}

	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", HeaderUserID, HeaderUserClass, HeaderAdminKey}
	router.Use(cors.New(config))

	api := router.Group("/api")
	NewHealthHandler(db, nil, nil, opts.ClaimLimiter).Register(api, opts.AdminKey)
	NewHandler(svc, opts).Register(api)

	return &testEnv{router: router, db: db, clock: clk}
}

// do 发送请求，user为空时不带身份
func (e *testEnv) do(t *testing.T, method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
