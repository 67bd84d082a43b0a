package cli

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	rediscache "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/infra/webhook"
)

func TestBuildDepsInMemory(t *testing.T) {
	var cfg config.Config
	cfg.Directory.Users = map[int64]string{10: "Ten"}
	cfg.Directory.Groups = []config.Group{{ID: 1, GroupingID: 1, Name: "Red", Members: []int64{10}}}

	deps, closeDeps, err := buildDeps(context.Background(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("build deps: %v", err)
	}
	defer closeDeps()

	if _, ok := deps.Repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", deps.Repo)
	}
	if _, ok := deps.Bank.(*memory.QuestionBank); !ok {
		t.Fatalf("expected memory question bank, got %T", deps.Bank)
	}
	if deps.Exporter != nil {
		t.Fatalf("expected no exporter, got %T", deps.Exporter)
	}
	if _, err := deps.Bank.GetQuestion(context.Background(), "arith-1"); err != nil {
		t.Fatalf("sample question missing: %v", err)
	}
	member, err := deps.Groups.IsMember(context.Background(), 1, 10)
	if err != nil || !member {
		t.Fatalf("expected configured membership, got %v %v", member, err)
	}
}

func TestBuildDepsWithRedisAndWebhook(t *testing.T) {
	mr := miniredis.RunT(t)
	var cfg config.Config
	cfg.Redis.Addr = mr.Addr()
	cfg.Export.WebhookURL = "http://gradebook.invalid/grades"

	deps, closeDeps, err := buildDeps(context.Background(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("build deps: %v", err)
	}
	defer closeDeps()

	if _, ok := deps.Bank.(*rediscache.QuestionCache); !ok {
		t.Fatalf("expected redis question cache, got %T", deps.Bank)
	}
	if _, ok := deps.Status.(*rediscache.StatusCache); !ok {
		t.Fatalf("expected redis status cache, got %T", deps.Status)
	}
	if _, ok := deps.AnonIDs.(*rediscache.AnonymousIDs); !ok {
		t.Fatalf("expected redis anonymous ids, got %T", deps.AnonIDs)
	}
	if _, ok := deps.Exporter.(*webhook.GradeExporter); !ok {
		t.Fatalf("expected webhook exporter, got %T", deps.Exporter)
	}
}

func TestRunServerRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if err := runServer(context.Background(), t.TempDir()+"/missing.yaml", ""); err != errMissingSecret {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
