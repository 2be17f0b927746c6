package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/vnmodhub/modhub/internal/domain"
)

func TestComments_CreateListCountDelete(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	author := seedUser(t, db, "author")
	reader := seedUser(t, db, "reader")
	m := seedMod(t, db, author.ID, "m", true, nowUTC())

	for _, body := range []string{"one", "two", "three"} {
		if err := CreateComment(ctx, db, &domain.Comment{ModID: m.ID, UserID: reader.ID, Body: body}); err != nil {
			t.Fatalf("CreateComment: %v", err)
		}
	}
	list, total, err := ListComments(ctx, db, m.ID, 0, 10)
	if err != nil || total != 3 || list[0].Body != "one" {
		t.Fatalf("ListComments: total=%d list=%+v err=%v", total, list, err)
	}
	n, err := CountCommentsByUser(ctx, db, reader.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountCommentsByUser = %d, %v", n, err)
	}

	c, err := GetComment(ctx, db, list[1].ID)
	if err != nil || c.Body != "two" {
		t.Fatalf("GetComment: %+v err=%v", c, err)
	}
	if err := DeleteComment(ctx, db, c.ID); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if _, err := GetComment(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := DeleteComment(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCreateComment_UnknownModViolatesFK(t *testing.T) {
	db := newTestDB(t, true)
	u := seedUser(t, db, "u")
	if err := CreateComment(context.Background(), db, &domain.Comment{ModID: 999, UserID: u.ID, Body: "x"}); err == nil {
		t.Fatalf("expected FK violation")
	}
}
