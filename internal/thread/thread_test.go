package thread

import (
	"testing"
	"time"

	"marginalia/internal/domain/models"
)

func root(id string) *models.Annotation {
	return &models.Annotation{
		ID:         id,
		ResourceID: "n1",
		OwnerID:    "u1",
		Kind:       models.AnnotationKindGeneral,
		Status:     models.AnnotationStatusActive,
		Body:       "root comment",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func reply(id, rootID, prevID string, at time.Time) *models.Annotation {
	r, p := rootID, prevID
	return &models.Annotation{
		ID:           id,
		ResourceID:   "n1",
		OwnerID:      "u1",
		Kind:         models.AnnotationKindGeneral,
		Status:       models.AnnotationStatusActive,
		Body:         "reply " + id,
		ThreadRootID: &r,
		ThreadPrevID: &p,
		CreatedAt:    at,
	}
}

func TestBuildSortsByCreationThenID(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rt := root("root")
	r1 := reply("r1", "root", "root", base)
	r2 := reply("r2", "root", "r1", base.Add(time.Minute))
	r3 := reply("r3", "root", "r2", base.Add(time.Minute)) // same instant as r2

	th, err := Build(rt, []*models.Annotation{r3, r1, r2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := []string{th.Replies[0].ID, th.Replies[1].ID, th.Replies[2].ID}
	want := []string{"r1", "r2", "r3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reply order = %v, want %v", got, want)
		}
	}
}

func TestBuildSurvivesBrokenChain(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rt := root("root")
	r1 := reply("r1", "root", "root", base)
	// r2 points at a reply that no longer exists; sort order still works.
	r2 := reply("r2", "root", "ghost", base.Add(time.Minute))

	th, err := Build(rt, []*models.Annotation{r2, r1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if th.Replies[0].ID != "r1" || th.Replies[1].ID != "r2" {
		t.Fatalf("reply order = [%s %s], want [r1 r2]", th.Replies[0].ID, th.Replies[1].ID)
	}
}

func TestBuildRejectsForeignReply(t *testing.T) {
	rt := root("root")
	stray := reply("r1", "other-root", "other-root", time.Now())
	if _, err := Build(rt, []*models.Annotation{stray}); err == nil {
		t.Fatal("expected error for reply belonging to another thread")
	}
}

func TestBuildRejectsReplyAsRoot(t *testing.T) {
	r := reply("r1", "root", "root", time.Now())
	if _, err := Build(r, nil); err == nil {
		t.Fatal("expected error building a thread from a reply")
	}
}

func TestTailID(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := TailID("root", nil); got != "root" {
		t.Fatalf("empty thread tail = %s, want root", got)
	}

	r1 := reply("r1", "root", "root", base)
	r2 := reply("r2", "root", "r1", base.Add(time.Minute))
	if got := TailID("root", []*models.Annotation{r2, r1}); got != "r2" {
		t.Fatalf("tail = %s, want r2", got)
	}

	// Timestamp tie: highest id wins, matching the sort order.
	r3 := reply("r3", "root", "r2", base.Add(time.Minute))
	if got := TailID("root", []*models.Annotation{r3, r1, r2}); got != "r3" {
		t.Fatalf("tail = %s, want r3", got)
	}
}

func TestRelinkAfterDelete(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	r1 := reply("r1", "root", "root", base)
	r2 := reply("r2", "root", "r1", base.Add(time.Minute))
	r3 := reply("r3", "root", "r2", base.Add(2*time.Minute))

	relinked := RelinkAfterDelete(r2, []*models.Annotation{r1, r2, r3})
	if len(relinked) != 1 || relinked[0].ID != "r3" {
		t.Fatalf("relinked = %v, want [r3]", ids(relinked))
	}
	if *r3.ThreadPrevID != "r1" {
		t.Fatalf("r3.prev = %s, want r1", *r3.ThreadPrevID)
	}
	if *r1.ThreadPrevID != "root" {
		t.Fatalf("r1.prev = %s, want root (untouched)", *r1.ThreadPrevID)
	}
}

func TestRelinkAfterDeleteFirstReply(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	r1 := reply("r1", "root", "root", base)
	r2 := reply("r2", "root", "r1", base.Add(time.Minute))

	RelinkAfterDelete(r1, []*models.Annotation{r1, r2})
	if *r2.ThreadPrevID != "root" {
		t.Fatalf("r2.prev = %s, want root (becomes first reply)", *r2.ThreadPrevID)
	}
}

func ids(anns []*models.Annotation) []string {
	out := make([]string, len(anns))
	for i, a := range anns {
		out[i] = a.ID
	}
	return out
}
