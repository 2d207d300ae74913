package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// wsLink adapts a gorilla connection to Link.
type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) WriteMessage(data []byte) error {
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (l *wsLink) Close() error {
	deadline := time.Now().Add(time.Second)
	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return l.conn.Close()
}

// WebsocketDialer dials ws://host:port/contextRoot, sending the personal
// token in the handshake.
func WebsocketDialer(handshakeTimeout time.Duration) Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, s settings.Settings) (Link, error) {
		header := http.Header{}
		if s.PersonalToken != "" {
			header.Set(TokenHeader, s.PersonalToken)
		}
		conn, _, err := dialer.DialContext(ctx, s.WebsocketURL(), header)
		if err != nil {
			return nil, err
		}
		return &wsLink{conn: conn}, nil
	}
}
