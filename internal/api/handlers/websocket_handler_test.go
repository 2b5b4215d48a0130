package handlers

import (
	"context"
	"net"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/scout-dashboard/backend/internal/nlq"
	"github.com/scout-dashboard/backend/internal/storage/models"
)

// blockingService holds every query until its context ends.
type blockingService struct {
	entered   chan struct{}
	cancelled chan struct{}
}

func (s *blockingService) Query(ctx context.Context, _ string, _ nlq.Options) (*models.NLQResponse, error) {
	s.entered <- struct{}{}
	<-ctx.Done()
	close(s.cancelled)
	return &models.NLQResponse{Answer: "late", Source: models.SourceFallback}, nil
}

func serveSocket(t *testing.T, svc NLQService) *fastws.Conn {
	t.Helper()

	h := NewWebSocketHandler(svc, time.Second, nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", h.Upgrade, websocket.New(h.HandleConnection))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketStreamsAnswer(t *testing.T) {
	conn := serveSocket(t, &stubService{resp: aiResponse()})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]string{"type": "query", "content": "sales by day"}); err != nil {
		t.Fatal(err)
	}

	var frames []map[string]any
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v (frames so far %v)", err, frames)
		}
		frames = append(frames, frame)
		if frame["type"] == "complete" {
			break
		}
	}

	if frames[0]["type"] != "status" {
		t.Fatalf("first frame = %v", frames[0])
	}
	var text string
	for _, f := range frames[1 : len(frames)-1] {
		if f["type"] != "chunk" {
			t.Fatalf("frame = %v, want chunk", f)
		}
		text += f["content"].(string)
	}
	if text != "Sales peak on Fridays." {
		t.Fatalf("streamed text = %q", text)
	}
	if done := frames[len(frames)-1]; done["source"] != "ai" || done["tokens"] != float64(120) {
		t.Fatalf("complete frame = %v", done)
	}
}

func TestWebSocketDisconnectCancelsQuery(t *testing.T) {
	svc := &blockingService{entered: make(chan struct{}, 1), cancelled: make(chan struct{})}
	conn := serveSocket(t, svc)

	if err := conn.WriteJSON(map[string]string{"type": "query", "content": "peak hours"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-svc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("query never started")
	}
	_ = conn.Close()

	select {
	case <-svc.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("query context not cancelled after disconnect")
	}
}
