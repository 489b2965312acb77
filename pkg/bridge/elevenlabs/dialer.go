package elevenlabs

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

const textMessage = websocket.TextMessage

// gorillaDialer adapts websocket.DefaultDialer to the Dialer interface.
type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (Conn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, urlStr, requestHeader)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}
