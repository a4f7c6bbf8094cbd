package access_test

import (
	"testing"

	"stageline/internal/domain"
	"stageline/internal/engine/access"
)

func TestEqualEmail(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"a@x.dev", "a@x.dev", true},
		{"A@X.Dev", " a@x.dev ", true},
		{"a@x.dev", "b@x.dev", false},
		{"", "", false},
		{"a@x.dev", "", false},
		{"  ", "a@x.dev", false},
	}
	for _, c := range cases {
		if got := access.EqualEmail(c.a, c.b); got != c.want {
			t.Errorf("EqualEmail(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCanOperateStage(t *testing.T) {
	task := domain.Task{ID: "t1", OwnerEmail: "owner@x.dev"}

	admin := domain.Actor{Email: "boss@x.dev", IsOrgAdmin: true}
	if !access.CanOperateStage(admin, task, "") {
		t.Error("org admin denied")
	}

	stageOwner := domain.Actor{Email: "Stage@X.Dev"}
	if !access.CanOperateStage(stageOwner, task, "stage@x.dev") {
		t.Error("stage owner denied")
	}

	taskOwner := domain.Actor{Email: "OWNER@x.dev"}
	if !access.CanOperateStage(taskOwner, task, "stage@x.dev") {
		t.Error("task owner denied")
	}

	outsider := domain.Actor{Email: "someone@x.dev"}
	if access.CanOperateStage(outsider, task, "stage@x.dev") {
		t.Error("outsider allowed")
	}

	// Empty actor email never matches, even against an ownerless task.
	anon := domain.Actor{}
	if access.CanOperateStage(anon, domain.Task{ID: "t2"}, "") {
		t.Error("anonymous actor allowed")
	}
}
