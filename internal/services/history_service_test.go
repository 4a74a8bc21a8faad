package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
)

func appendHistoryMsg(t *testing.T, db *gorm.DB, conversationID, customerID, sender, text string) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ConversationID: conversationID,
		CustomerID:     customerID,
		Sender:         sender,
		Text:           text,
	}
	if err := repo.AppendMessage(context.Background(), db, m); err != nil {
		t.Fatalf("append message: %v", err)
	}
	return m
}

func TestListConversationPage_ChronologicalPages(t *testing.T) {
	db := newServiceDB(t)
	svc := &HistoryService{DB: db}
	conv := uuid.NewString()
	for i := 0; i < 5; i++ {
		appendHistoryMsg(t, db, conv, "cust-1", domain.SenderUser, "msg")
	}

	items, total, err := svc.ListConversationPage(context.Background(), conv, 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("page 1 = (%d items, total %d)", len(items), total)
	}

	items, total, err = svc.ListConversationPage(context.Background(), conv, 3, 2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if total != 5 || len(items) != 1 {
		t.Fatalf("page 3 = (%d items, total %d)", len(items), total)
	}
}

func TestListConversationPage_UnknownConversation(t *testing.T) {
	db := newServiceDB(t)
	svc := &HistoryService{DB: db}

	_, _, err := svc.ListConversationPage(context.Background(), uuid.NewString(), 1, 20)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestListConversationPage_NormalizesPagination(t *testing.T) {
	db := newServiceDB(t)
	svc := &HistoryService{DB: db}
	conv := uuid.NewString()
	appendHistoryMsg(t, db, conv, "cust-1", domain.SenderUser, "msg")

	// Out-of-range inputs fall back to page 1, size 20.
	items, total, err := svc.ListConversationPage(context.Background(), conv, -3, 9999)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("got (%d items, total %d)", len(items), total)
	}
}

func TestListCustomerPage_SpansConversations(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	svc := &HistoryService{DB: db}

	appendHistoryMsg(t, db, uuid.NewString(), c.ID, domain.SenderUser, "first")
	appendHistoryMsg(t, db, uuid.NewString(), c.ID, domain.SenderBot, "second")

	items, total, err := svc.ListCustomerPage(context.Background(), c.ID, 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("got (%d items, total %d)", len(items), total)
	}
	if items[0].Text != "first" {
		t.Fatalf("order wrong: %q", items[0].Text)
	}
}

func TestListCustomerPage_EmptyHistoryIsValid(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	svc := &HistoryService{DB: db}

	items, total, err := svc.ListCustomerPage(context.Background(), c.ID, 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("got (%v, total %d)", items, total)
	}
}

func TestListCustomerPage_UnknownCustomer(t *testing.T) {
	db := newServiceDB(t)
	svc := &HistoryService{DB: db}

	_, _, err := svc.ListCustomerPage(context.Background(), uuid.NewString(), 1, 20)
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestHistoryGetCustomer(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierPremium)
	svc := &HistoryService{DB: db}

	got, err := svc.GetCustomer(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ServiceTier != domain.TierPremium || len(got.Devices) != 1 {
		t.Fatalf("customer = %+v", got)
	}

	if _, err := svc.GetCustomer(context.Background(), uuid.NewString()); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		page, size                  int
		wantPage, wantSize, wantOff int
	}{
		{1, 20, 1, 20, 0},
		{0, 0, 1, 20, 0},
		{-5, 101, 1, 20, 0},
		{3, 10, 3, 10, 20},
	}
	for _, c := range cases {
		p, s, off := normalizePage(c.page, c.size)
		if p != c.wantPage || s != c.wantSize || off != c.wantOff {
			t.Fatalf("normalizePage(%d, %d) = (%d, %d, %d), want (%d, %d, %d)",
				c.page, c.size, p, s, off, c.wantPage, c.wantSize, c.wantOff)
		}
	}
}
