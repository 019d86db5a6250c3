package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newIdemDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_Migration_UniqueKey(t *testing.T) {
	db := newIdemDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_user_run_key") {
		t.Fatalf("expected index ux_user_run_key on idempotency")
	}

	rec := Idempotency{
		ID:        "idem-1",
		UserID:    "user-1",
		RunID:     "run-1",
		Key:       "k-abc",
		StepID:    "step-1",
		Status:    201,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := rec
	dup.ID = "idem-2"
	dup.StepID = "step-2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatal("expected unique violation for duplicate (user, run, key)")
	}
}
