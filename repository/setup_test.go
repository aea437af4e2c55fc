package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"yourturn-backend/database"
	"yourturn-backend/schedule"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 每个测试使用独立的内存SQLite库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testSlot(t *testing.T) schedule.Slot {
	t.Helper()
	r, err := schedule.NewRegistry([]schedule.Marker{{Hour: 9}}, 20*time.Second, time.UTC)
	require.NoError(t, err)
	s, err := r.SlotByKey("2024-06-01_0900")
	require.NoError(t, err)
	return s
}
