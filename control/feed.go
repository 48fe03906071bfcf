package control

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"onair/log"
	"onair/mixer"
	"onair/studio"
	"onair/trigger"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 << 10,
	// the control surface binds to localhost; browser UIs served from
	// elsewhere still need to connect
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is one websocket frame in either direction.
//
// Server to client: "state" carries the combined studio state, "levels" the
// audio meters when the feed was opened with ?levels=true.
// Client to server: "key" and "midi" dispatch triggers, "take" and "cut" run
// the global actions.
type Message struct {
	Type    string        `json:"type"`
	State   *studio.State `json:"state,omitempty"`
	Levels  *mixer.Levels `json:"levels,omitempty"`
	Key     string        `json:"key,omitempty"`
	Note    int           `json:"note,omitempty"`
	Channel int           `json:"channel,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Feed upgrades to a websocket that streams state snapshots. Slow clients
// skip intermediate states; they always receive the latest one.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("control: websocket upgrade: %v", err)
		return
	}
	levels, _ := strconv.ParseBool(r.URL.Query().Get("levels"))

	out := make(chan Message, 8)
	done := make(chan struct{})
	go h.writeLoop(conn, out, done, levels)

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("control: websocket read: %v", err)
			}
			break
		}
		if reply, ok := h.command(m); ok {
			select {
			case out <- reply:
			case <-done:
			}
		}
	}
	close(out)
	<-done
}

// command runs a client message and returns an error reply when it failed.
func (h *Handler) command(m Message) (Message, bool) {
	var err error
	switch m.Type {
	case "key":
		h.s.Triggers.Dispatch(trigger.Key(m.Key, "ws"))
	case "midi":
		h.s.Triggers.Dispatch(trigger.Note(m.Note, m.Channel, "ws"))
	case "take":
		err = h.s.Take()
	case "cut":
		err = h.s.Cut()
	default:
		return Message{Type: "error", Error: "unknown message type " + strconv.Quote(m.Type)}, true
	}
	if err != nil {
		return Message{Type: "error", Error: err.Error()}, true
	}
	return Message{}, false
}

// writeLoop owns every write on conn. It exits when out is closed or a
// write fails, and closes done on the way out.
func (h *Handler) writeLoop(conn *websocket.Conn, out <-chan Message, done chan<- struct{}, withLevels bool) {
	states := h.s.Subscribe()
	defer func() {
		states.Close()
		conn.Close()
		close(done)
	}()

	var levelsC <-chan mixer.Levels
	if withLevels {
		sub := h.s.Audio.SubscribeLevels()
		defer sub.Close()
		levelsC = sub.C()
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(m Message) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m) == nil
	}
	for {
		select {
		case m, ok := <-out:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if !write(m) {
				return
			}
		case st := <-states.C():
			if !write(Message{Type: "state", State: &st}) {
				return
			}
		case lv := <-levelsC:
			if !write(Message{Type: "levels", Levels: &lv}) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
