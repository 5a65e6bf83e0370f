package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/gorilla/websocket"

	"lekhaflow/backend/internal/auth"
	"lekhaflow/backend/internal/client"
	"lekhaflow/backend/internal/element"
	"lekhaflow/backend/internal/ws"
)

const BoardClientVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Board demo client. Joins a room, draws a rectangle, drags it,
undoes the drag, and prints every observed document state.

Usage:
    board_client demo --room=<room> [--url=<url>] [--token=<token>] [--name=<name>]
    board_client token --user_id=<id> --name=<name> [--email=<email>]
    board_client --version

Options:
    --url=<url>      Server websocket url [default: ws://127.0.0.1:3002/board/ws].
    --token=<token>  Bearer token; minted locally from JWT_SECRET when omitted.
    --name=<name>    Display name [default: demo].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BoardClientVersion)
	if err != nil {
		Err.Fatalf("parse args: %v", err)
	}

	if tokenCmd, _ := opts.Bool("token"); tokenCmd {
		runToken(opts)
		return
	}
	if demo, _ := opts.Bool("demo"); demo {
		runDemo(opts)
		return
	}
}

func runToken(opts docopt.Opts) {
	userID, _ := opts.Int("--user_id")
	name, _ := opts.String("--name")
	email, _ := opts.String("--email")
	token, expires, err := auth.SignAccessToken(uint64(userID), name, email, 24*time.Hour)
	if err != nil {
		Err.Fatalf("sign token: %v", err)
	}
	Out.Printf("%s", token)
	Out.Printf("expires: %s", expires.Format(time.RFC3339))
}

// wsTransport sends the adapter's two channels over one socket.
type wsTransport struct {
	conn   *websocket.Conn
	roomID string
}

func (t *wsTransport) SendUpdate(data []byte) error {
	return t.conn.WriteJSON(ws.ClientMessage{
		Type:      ws.TypeSyncUpdate,
		RoomID:    t.roomID,
		Timestamp: time.Now().UnixMilli(),
		Update:    data,
	})
}

func (t *wsTransport) SendAwareness(a client.Awareness) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return t.conn.WriteJSON(ws.ClientMessage{
		Type:      ws.TypeAwareness,
		RoomID:    t.roomID,
		Timestamp: time.Now().UnixMilli(),
		Awareness: raw,
	})
}

func runDemo(opts docopt.Opts) {
	url, _ := opts.String("--url")
	room, _ := opts.String("--room")
	name, _ := opts.String("--name")
	token, _ := opts.String("--token")
	if token == "" {
		var err error
		token, _, err = auth.SignAccessToken(1, name, "", time.Hour)
		if err != nil {
			Err.Fatalf("mint token: %v", err)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s&roomId=%s", url, token, room), nil)
	if err != nil {
		Err.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	doc := element.NewStore()
	adapter := client.NewAdapter(doc, &wsTransport{conn: conn, roomID: room},
		client.User{Name: name, Color: "#38bdf8"},
		func(live []element.Element) {
			Out.Printf("document: %d live element(s)", len(live))
			for _, el := range live {
				Out.Printf("  %s %s at (%.0f, %.0f) v%d", el.Kind, el.ID, el.X, el.Y, el.Version)
			}
		})
	defer adapter.Close()

	// Inbound frames feed the same store the adapter mutates.
	go func() {
		for {
			var msg ws.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				Err.Printf("read: %v", err)
				return
			}
			switch msg.Type {
			case ws.TypeRoomState, ws.TypeSyncUpdate:
				if err := adapter.ApplyRemote(msg.Update); err != nil {
					Err.Printf("apply remote: %v", err)
				}
			case ws.TypeAwareness:
				Out.Printf("awareness from user %d", msg.UserID)
			case ws.TypeJoinRoom:
				Out.Printf("%s joined", msg.UserName)
			case ws.TypeLeaveRoom:
				Out.Printf("%s left", msg.UserName)
			case ws.TypeError:
				Err.Printf("server error: %s", msg.Reason)
			}
		}
	}()

	rect, err := adapter.AddElement(element.Element{
		Kind:        element.KindRectangle,
		X:           100,
		Y:           80,
		Width:       100,
		Height:      50,
		StrokeColor: "#1e1e1e",
	})
	if err != nil {
		Err.Fatalf("add element: %v", err)
	}

	adapter.UpdateCursor(&element.Point{X: 150, Y: 105})

	// Drag past the coalescing window so the move is its own undo step.
	time.Sleep(600 * time.Millisecond)
	x, y := 300.0, 200.0
	adapter.UpdateElement(rect.ID, client.Patch{X: &x, Y: &y})

	time.Sleep(600 * time.Millisecond)
	adapter.Undo()

	time.Sleep(2 * time.Second)
}
