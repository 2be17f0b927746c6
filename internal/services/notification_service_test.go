package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/mail"
)

func TestEmailAllowed(t *testing.T) {
	cases := []struct {
		name string
		user *domain.User
		cat  EmailCategory
		want bool
	}{
		{"nil user", nil, EmailModeration, false},
		{"unverified", &domain.User{Email: "a@x.io", EmailOnModeration: true}, EmailModeration, false},
		{"blank address", &domain.User{Email: " ", EmailVerified: true, EmailOnModeration: true}, EmailModeration, false},
		{"moderation on", &domain.User{Email: "a@x.io", EmailVerified: true, EmailOnModeration: true}, EmailModeration, true},
		{"moderation off", &domain.User{Email: "a@x.io", EmailVerified: true, EmailOnAchievement: true}, EmailModeration, false},
		{"achievement on", &domain.User{Email: "a@x.io", EmailVerified: true, EmailOnAchievement: true}, EmailAchievement, true},
		{"no category", &domain.User{Email: "a@x.io", EmailVerified: true, EmailOnModeration: true, EmailOnAchievement: true}, EmailNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EmailAllowed(tc.user, tc.cat); got != tc.want {
				t.Fatalf("EmailAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNotificationCreate_PersistsAndPushes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "a")
	rel := uint(9)

	n, err := e.notes.Create(ctx, u.ID, domain.NotifyComment, "  Hello ", " world ", &rel)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID == 0 || n.Title != "Hello" || n.Message != "world" || n.RelatedID == nil || *n.RelatedID != 9 || n.IsRead {
		t.Fatalf("unexpected notification %+v", n)
	}
	if e.pusher.count(u.ID) != 1 {
		t.Fatalf("want one push, got %d", e.pusher.count(u.ID))
	}
	if len(e.mailer.messages()) != 0 {
		t.Fatal("Create never emails")
	}
}

func TestNotificationSend_EmailGatedByPreference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := seedUser(t, e.db, "in", withEmail("in@example.com", true, false))
	out := seedUser(t, e.db, "out", withEmail("out@example.com", false, false))

	for _, u := range []*domain.User{in, out} {
		_, err := e.notes.Send(ctx, Notice{
			UserID:   u.ID,
			Type:     domain.NotifyModApproved,
			Title:    "t",
			Message:  "m",
			Category: EmailModeration,
			Email: func(u *domain.User) mail.Message {
				return mail.Message{To: u.Email, Subject: "hi"}
			},
		})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	sent := e.mailer.messages()
	if len(sent) != 1 || sent[0].To != "in@example.com" {
		t.Fatalf("want one email to in@example.com, got %+v", sent)
	}
	if len(notificationsOf(t, e.db, out.ID, "")) != 1 {
		t.Fatal("opted-out user still gets the in-app notification")
	}
}

func TestNotificationSend_MailErrorStillStoresRow(t *testing.T) {
	e := newEnv(t)
	e.mailer.err = errBoom
	u := seedUser(t, e.db, "a", withEmail("a@example.com", true, true))

	n, err := e.notes.Send(context.Background(), Notice{
		UserID:   u.ID,
		Type:     domain.NotifyModApproved,
		Title:    "t",
		Message:  "m",
		Category: EmailModeration,
		Email:    func(u *domain.User) mail.Message { return mail.Message{To: u.Email} },
	})
	if err != nil || n == nil {
		t.Fatalf("Send must not fail on mail errors: %v", err)
	}
	if len(notificationsOf(t, e.db, u.ID, "")) != 1 {
		t.Fatal("row missing")
	}
}

func TestNotificationEmit_RolledBackLeavesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "a", withEmail("a@example.com", true, true))

	pc := &postCommit{}
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if _, err := e.notes.emit(ctx, tx, pc, Notice{
			UserID:   u.ID,
			Type:     domain.NotifyModApproved,
			Title:    "t",
			Message:  "m",
			Category: EmailModeration,
			Email:    func(u *domain.User) mail.Message { return mail.Message{To: u.Email} },
		}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("want errBoom, got %v", err)
	}
	if n := len(notificationsOf(t, e.db, u.ID, "")); n != 0 {
		t.Fatalf("want no rows after rollback, got %d", n)
	}
	if e.pusher.count(u.ID) != 0 || len(e.mailer.messages()) != 0 {
		t.Fatal("nothing may be delivered before commit")
	}
}

func TestNotificationLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "a")
	other := seedUser(t, e.db, "b")

	var ids []uint
	for i := 0; i < 3; i++ {
		n, err := e.notes.Create(ctx, u.ID, domain.NotifyComment, "t", "m", nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}

	list, total, err := e.notes.List(ctx, u.ID, false, 1, 2)
	if err != nil || total != 3 || len(list) != 2 {
		t.Fatalf("List: total=%d len=%d err=%v", total, len(list), err)
	}
	if list[0].ID != ids[2] {
		t.Fatalf("want newest first, got %d", list[0].ID)
	}

	if err := e.notes.MarkRead(ctx, u.ID, ids[0]); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if c, _ := e.notes.UnreadCount(ctx, u.ID); c != 2 {
		t.Fatalf("unread = %d, want 2", c)
	}
	unread, total, _ := e.notes.List(ctx, u.ID, true, 1, 10)
	if total != 2 || len(unread) != 2 {
		t.Fatalf("unread list total=%d len=%d", total, len(unread))
	}

	if err := e.notes.MarkRead(ctx, other.ID, ids[1]); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("foreign MarkRead: want ErrNotificationNotFound, got %v", err)
	}
	if err := e.notes.Delete(ctx, other.ID, ids[1]); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("foreign Delete: want ErrNotificationNotFound, got %v", err)
	}

	if n, err := e.notes.MarkAllRead(ctx, u.ID); err != nil || n != 2 {
		t.Fatalf("MarkAllRead: n=%d err=%v", n, err)
	}
	if c, _ := e.notes.UnreadCount(ctx, u.ID); c != 0 {
		t.Fatalf("unread = %d after MarkAllRead", c)
	}

	if err := e.notes.Delete(ctx, u.ID, ids[1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := e.notes.Delete(ctx, u.ID, ids[1]); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("second Delete: want ErrNotificationNotFound, got %v", err)
	}
}
