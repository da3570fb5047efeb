package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopyhq/canopy/internal/index"
)

func rowEvent(name, title string, path ...int) index.Event {
	return index.Event{
		Row:  index.PageRow{Name: name, Title: title},
		Path: index.LookupPath(path),
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPageEventDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.RowInserted(rowEvent("Projects:Canopy", "Canopy", 1, 0))

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: page.inserted") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"name":"Projects:Canopy"`) {
			t.Errorf("missing page name in %q", s)
		}
		if !strings.Contains(s, `"path":"1:0"`) {
			t.Errorf("missing lookup path in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTreeUpdateThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// The first page event carries a tree.updated; the second, arriving
	// inside the throttle window, must not.
	b.RowChanged(rowEvent("A", "", 0))
	b.RowDeleted(rowEvent("B", "", 1))

	time.Sleep(50 * time.Millisecond)
	treeCount := 0
	pageCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "tree.updated") {
				treeCount++
			} else {
				pageCount++
			}
		default:
			break loop
		}
	}

	if pageCount != 2 {
		t.Errorf("page events = %d, want 2", pageCount)
	}
	if treeCount != 1 {
		t.Errorf("tree events = %d, want 1 (throttled)", treeCount)
	}
}

func TestSaveErrorEvent(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishSaveError("Journal:Today", errors.New("disk full"))

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: save.error") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"page":"Journal:Today"`) {
			t.Errorf("missing page in %q", s)
		}
		if !strings.Contains(s, `"error":"disk full"`) {
			t.Errorf("missing error in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.RowChanged(rowEvent("Home", "Home", 0))
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: page.changed") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPageEventDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Flood far past the client buffer (64) and the event queue (256); the
	// listener path must never block.
	for i := 0; i < 400; i++ {
		b.RowChanged(rowEvent("A", "", 0))
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.Publish(Event{Type: "page.changed", Data: map[string]string{"name": "x"}})
	b.RowChanged(rowEvent("x", "", 0))
	b.PublishSaveError("x", errors.New("late"))
}
