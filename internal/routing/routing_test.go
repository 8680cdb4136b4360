package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/projects"
)

type fakeProjects struct {
	byID      map[string]projects.Project
	defaultP  *projects.Project
	enabled   []projects.Project
	listError error
}

func (f *fakeProjects) GetByProjectID(_ context.Context, _, _, projectID string) (projects.Project, error) {
	if p, ok := f.byID[projectID]; ok {
		return p, nil
	}
	return projects.Project{}, projects.ErrNotFound
}

func (f *fakeProjects) GetDefault(context.Context, string, string) (projects.Project, error) {
	if f.defaultP != nil {
		return *f.defaultP, nil
	}
	return projects.Project{}, projects.ErrNotFound
}

func (f *fakeProjects) ListEnabled(context.Context, string, string) ([]projects.Project, error) {
	if f.listError != nil {
		return nil, f.listError
	}
	return f.enabled, nil
}

type fakeBots struct {
	bot *bots.Bot
}

func (f *fakeBots) GetByKey(context.Context, string) (bots.Bot, error) {
	if f.bot != nil {
		return *f.bot, nil
	}
	return bots.Bot{}, bots.ErrNotFound
}

func proj(id, url string, enabled bool) projects.Project {
	return projects.Project{ProjectID: id, TargetURL: url, TimeoutSeconds: 30, Enabled: enabled}
}

func TestResolve_SessionProjectWins(t *testing.T) {
	t.Parallel()
	def := proj("other", "https://other.example", true)
	r := NewResolver(nil, &fakeProjects{
		byID:     map[string]projects.Project{"p1": proj("p1", "https://p1.example", true)},
		defaultP: &def,
	}, &fakeBots{})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "p1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.URL != "https://p1.example" {
		t.Fatalf("target = %q, want session project", target.URL)
	}
	if target.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", target.Timeout)
	}
}

func TestResolve_DisabledSessionProjectFallsThrough(t *testing.T) {
	t.Parallel()
	def := proj("def", "https://default.example", true)
	r := NewResolver(nil, &fakeProjects{
		byID:     map[string]projects.Project{"p1": proj("p1", "https://p1.example", false)},
		defaultP: &def,
	}, &fakeBots{})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "p1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.ProjectID != "def" {
		t.Fatalf("target project = %q, want default after fallthrough", target.ProjectID)
	}
}

func TestResolve_DefaultProject(t *testing.T) {
	t.Parallel()
	def := proj("def", "https://default.example", true)
	r := NewResolver(nil, &fakeProjects{defaultP: &def}, &fakeBots{})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.URL != "https://default.example" {
		t.Fatalf("target = %q, want default project", target.URL)
	}
}

func TestResolve_SoleEnabledProject(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, &fakeProjects{
		enabled: []projects.Project{proj("only", "https://only.example", true)},
	}, &fakeBots{})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.ProjectID != "only" {
		t.Fatalf("target project = %q, want the sole enabled one", target.ProjectID)
	}
}

func TestResolve_FirstOfSeveral(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, &fakeProjects{
		enabled: []projects.Project{
			proj("oldest", "https://a.example", true),
			proj("newer", "https://b.example", true),
		},
	}, &fakeBots{})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.ProjectID != "oldest" {
		t.Fatalf("target project = %q, want head of ordered list", target.ProjectID)
	}
}

func TestResolve_BotFallback(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, &fakeProjects{}, &fakeBots{
		bot: &bots.Bot{BotKey: "bot1", TargetURL: "https://bot.example", APIKey: "sk-1", TimeoutSeconds: 45},
	})

	target, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.URL != "https://bot.example" || target.APIKey != "sk-1" {
		t.Fatalf("unexpected bot fallback target: %+v", target)
	}
	if target.ProjectID != "" {
		t.Fatalf("bot fallback must not carry a project id, got %q", target.ProjectID)
	}
}

func TestResolve_NoRoute(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, &fakeProjects{}, &fakeBots{bot: &bots.Bot{BotKey: "bot1"}})

	_, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, &fakeProjects{
		enabled: []projects.Project{
			proj("a", "https://a.example", true),
			proj("b", "https://b.example", true),
		},
	}, &fakeBots{})

	first, err := r.Resolve(context.Background(), "bot1", "chat1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), "bot1", "chat1", "")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if again != first {
			t.Fatalf("resolution changed between calls: %+v vs %+v", again, first)
		}
	}
}
