package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"yourturn-backend/clock"
	"yourturn-backend/database"
	"yourturn-backend/events"
	"yourturn-backend/repository"
	"yourturn-backend/schedule"
)

// recorder 记录发出的事件
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	repo        *repository.GormRepository
	registry    *schedule.Registry
	clock       *clock.Fake
	events      *recorder
	arbitration *ArbitrationService
	questions   *QuestionService
	voting      *VotingService
	results     *ResultsService
}

const testSlotKey = "2024-06-01_0900"

var testOpenAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// setup 内存SQLite + 固定时钟，时段为 09:00/13:00/21:00，窗口20秒
func setup(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name), logger.Default.LogMode(logger.Silent))
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

	f := &fixture{
		repo:     repository.NewGormRepository(db),
		registry: registry,
		clock:    clock.NewFake(testOpenAt.Add(time.Second)),
		events:   &recorder{},
	}
	f.arbitration = NewArbitrationService(f.repo, registry, f.clock, f.events)
	f.questions = NewQuestionService(f.repo, registry, f.clock, f.events, nil, QuestionPolicy{MaxTextLength: 200, MaxOptionLength: 80})
	f.voting = NewVotingService(f.repo, f.clock, f.events, nil)
	f.results = NewResultsService(f.repo, registry, f.clock, nil)
	return f
}
