package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codezoo/codezoo/internal/auth"
	"github.com/codezoo/codezoo/internal/editor"
	"github.com/codezoo/codezoo/internal/layout"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/store"
)

const (
	// maxMessageSize bounds one client message; an edit carries a whole pane.
	maxMessageSize = 2 << 20
	writeWait      = 10 * time.Second
)

// Client message types on /ws/editor.
const (
	msgOpen          = "open"
	msgEdit          = "edit"
	msgPreprocessors = "preprocessors"
	msgSplit         = "split"
	msgToggle        = "toggle"
	msgResizeBegin   = "resize.begin"
	msgResizeMove    = "resize.move"
	msgResizeEnd     = "resize.end"
	msgSave          = "save"
)

// ClientMessage is one message from the editor client.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type openData struct {
	PenID string `json:"penId"`
}

type editData struct {
	Pane   pen.Pane `json:"pane"`
	Source string   `json:"source"`
}

type splitData struct {
	// Orientation is "horizontal" or "vertical"; empty toggles.
	Orientation string `json:"orientation,omitempty"`
}

type toggleData struct {
	Pane pen.Pane `json:"pane"`
}

type resizeData struct {
	Divider int     `json:"divider"`
	Pointer float64 `json:"pointer"`
	Extent  float64 `json:"extent"`
}

// wsSink serializes session events onto one connection.
type wsSink struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	debug bool
}

func (s *wsSink) Send(e editor.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[WS] Failed to marshal %s event: %v", e.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if s.debug {
			log.Printf("[WS] Failed to send %s event: %v", e.Type, err)
		}
		return
	}
	if s.debug && e.Type != editor.EventLayout {
		log.Printf("[WS] Sent %s (%d bytes)", e.Type, len(data))
	}
}

func (s *wsSink) sendError(command string, err error) {
	s.Send(editor.Event{Type: editor.EventError, Data: editor.ErrorPayload{Command: command, Message: err.Error()}})
}

// checkOrigin accepts same-origin upgrades and origins allowed by the CORS
// config. The session cookie alone must not let another site drive an editor.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, o := range s.config.API.GetCORSOrigins() {
		if o == origin {
			return true
		}
	}
	return false
}

// serveEditorSocket runs one editor session for the lifetime of the
// connection.
func (s *Server) serveEditorSocket(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(s.ctx)
	sink := &wsSink{conn: conn, debug: s.debug}
	split, _ := layout.ParseOrientation(s.config.Editor.GetDefaultSplit())
	session := editor.New(ctx, editor.Options{
		UserID:         u.ID,
		Compiler:       s.compiler,
		Loader:         s.store,
		Saver:          s.store,
		Sink:           sink,
		Previews:       s.previews,
		Split:          split,
		MinPanePercent: s.config.Editor.GetMinPanePercent(),
		Debounce:       s.config.Editor.GetDebounce(),
		AutosaveDelay:  s.config.Editor.GetAutosaveDelay(),
		Debug:          s.debug,
	})

	var saves sync.WaitGroup
	defer func() {
		s.UnregisterConnection(conn)
		conn.Close()
		saves.Wait()
		session.Close()
		cancel()
	}()

	s.RegisterConnection(conn, session)

	if s.debug {
		log.Printf("[WS] Editor connected: %s (user %s)", conn.RemoteAddr(), u.ID)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			sink.sendError("", fmt.Errorf("invalid message: %w", err))
			continue
		}

		if msg.Type == msgSave {
			// Saves hit the database; keep reading so drags and edits are
			// not held up behind them.
			saves.Add(1)
			go func() {
				defer saves.Done()
				session.Save(pen.SaveManual)
			}()
			continue
		}

		if err := s.handleEditorMessage(ctx, session, msg); err != nil {
			if s.debug {
				log.Printf("[WS] %s failed: %v", msg.Type, err)
			}
			sink.sendError(msg.Type, err)
		}
	}

	if s.debug {
		log.Printf("[WS] Editor disconnected: %s", conn.RemoteAddr())
	}
}

// handleEditorMessage applies one client message to the session.
func (s *Server) handleEditorMessage(ctx context.Context, session *editor.Session, msg ClientMessage) error {
	switch msg.Type {
	case msgOpen:
		var d openData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		_, err := session.Open(ctx, d.PenID)
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("pen not found")
		}
		return err

	case msgEdit:
		var d editData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		return session.Edit(d.Pane, d.Source)

	case msgPreprocessors:
		var sel pen.Selection
		if err := decodeData(msg.Data, &sel); err != nil {
			return err
		}
		return session.SetPreprocessors(sel)

	case msgSplit:
		var d splitData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		if d.Orientation == "" {
			session.ToggleSplit()
			return nil
		}
		o, err := layout.ParseOrientation(d.Orientation)
		if err != nil {
			return err
		}
		session.SetSplit(o)
		return nil

	case msgToggle:
		var d toggleData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		return session.TogglePane(d.Pane)

	case msgResizeBegin:
		var d resizeData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		session.BeginResize(d.Divider, d.Pointer)
		return nil

	case msgResizeMove:
		var d resizeData
		if err := decodeData(msg.Data, &d); err != nil {
			return err
		}
		session.MoveResize(d.Pointer, d.Extent)
		return nil

	case msgResizeEnd:
		session.EndResize()
		return nil

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid message data: %w", err)
	}
	return nil
}
