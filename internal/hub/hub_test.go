package hub

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

func newHub(t *testing.T, obs ObserverFunc) *Hub {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Interval = 0
	h := NewHub(context.Background(), cfg, nil, obs)
	t.Cleanup(func() {
		h.Inbox() <- ShutdownHub{}
		<-h.Done()
	})
	return h
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newHub(t, nil)
	reply := make(chan *session.Session, 1)

	h.Inbox() <- CreateRoom{Code: "ZED123", Reply: reply}
	s1 := <-reply

	h.Inbox() <- GetRoom{Code: "ZED123", Reply: reply}
	s2 := <-reply

	if s1 == nil || s2 == nil || s1 != s2 {
		t.Fatalf("expected same session pointer")
	}

	h.Inbox() <- EnsureRoom{Code: "ZED123", Reply: reply}
	if s3 := <-reply; s3 != s1 {
		t.Fatalf("ensure must not replace an existing room")
	}
}

func TestHub_GetMissingIsNil(t *testing.T) {
	h := newHub(t, nil)
	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetRoom{Code: "NOPE00", Reply: reply}
	if s := <-reply; s != nil {
		t.Fatalf("expected nil for unknown room")
	}
}

func TestHub_RemoveStopsSession(t *testing.T) {
	h := newHub(t, nil)
	reply := make(chan *session.Session, 1)
	h.Inbox() <- EnsureRoom{Code: "AAA111", Reply: reply}
	s := <-reply

	h.Inbox() <- RemoveRoom{Code: "AAA111"}
	select {
	case <-s.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("session still running after remove")
	}

	list := make(chan []string, 1)
	h.Inbox() <- ListRooms{Reply: list}
	if codes := <-list; len(codes) != 0 {
		t.Fatalf("expected no rooms, got %v", codes)
	}
}

func TestHub_RemoveDoesNotWaitOnBusyRoom(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Interval = 0
	cfg.InboxSize = 1
	h := NewHub(context.Background(), cfg, nil, nil)
	t.Cleanup(func() {
		h.Inbox() <- ShutdownHub{}
		<-h.Done()
	})
	reply := make(chan *session.Session, 1)
	h.Inbox() <- EnsureRoom{Code: "BUSY01", Reply: reply}
	s := <-reply

	// Park the loop on an unread reply, then fill its inbox.
	joined := make(chan session.JoinResult)
	s.Inbox() <- session.Join{ClientID: "a", Outbox: make(chan []byte, 4), Reply: joined}
	s.Inbox() <- session.GetState{Reply: make(chan session.View, 1)}

	h.Inbox() <- RemoveRoom{Code: "BUSY01"}
	h.Inbox() <- GetRoom{Code: "BUSY01", Reply: reply}
	select {
	case got := <-reply:
		if got != nil {
			t.Fatalf("room still registered after remove")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("hub blocked on a busy room")
	}

	<-joined
	select {
	case <-s.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("session still running after remove")
	}
}

func TestHub_ListRooms(t *testing.T) {
	h := newHub(t, nil)
	reply := make(chan *session.Session, 1)
	for _, code := range []string{"BBB222", "AAA111"} {
		h.Inbox() <- CreateRoom{Code: code, Reply: reply}
		<-reply
	}
	list := make(chan []string, 1)
	h.Inbox() <- ListRooms{Reply: list}
	codes := <-list
	sort.Strings(codes)
	if len(codes) != 2 || codes[0] != "AAA111" || codes[1] != "BBB222" {
		t.Fatalf("unexpected rooms %v", codes)
	}
}

type recordingObserver struct {
	joined chan types.Index
}

func (o recordingObserver) Joined(idx types.Index, _ string) { o.joined <- idx }
func (o recordingObserver) Left(types.Index, string)         {}

func TestHub_ObserverPerRoom(t *testing.T) {
	obs := recordingObserver{joined: make(chan types.Index, 1)}
	var rooms []string
	h := newHub(t, func(code string) session.Observer {
		rooms = append(rooms, code)
		return obs
	})
	reply := make(chan *session.Session, 1)
	h.Inbox() <- CreateRoom{Code: "OBS000", Reply: reply}
	s := <-reply

	joinReply := make(chan session.JoinResult, 1)
	s.Inbox() <- session.Join{ClientID: "c1", Outbox: make(chan []byte, 4), Reply: joinReply}
	if res := <-joinReply; res.Err != nil {
		t.Fatalf("join: %v", res.Err)
	}
	select {
	case idx := <-obs.joined:
		if idx != 0 {
			t.Fatalf("want index 0, got %d", idx)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("observer not notified")
	}
	if len(rooms) != 1 || rooms[0] != "OBS000" {
		t.Fatalf("observer factory got %v", rooms)
	}
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Interval = 0
	h := NewHub(context.Background(), cfg, nil, nil)
	reply := make(chan *session.Session, 1)
	h.Inbox() <- CreateRoom{Code: "ZZZ999", Reply: reply}
	s := <-reply

	h.Inbox() <- ShutdownHub{}
	<-h.Done()
	select {
	case <-s.Done():
	default:
		t.Fatalf("room still running after hub shutdown")
	}
}
