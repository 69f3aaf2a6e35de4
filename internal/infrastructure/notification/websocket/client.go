package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreschagin/link-preview/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Лента только на чтение: от клиента ждем лишь control frames
	maxMessageSize = 512

	sendBuffer = 16
)

// Client подписчик ленты скриншотов
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	send   chan Message
	logger *logger.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, logger *logger.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		send:   make(chan Message, sendBuffer),
		logger: logger,
	}
}

// Serve регистрирует клиента в hub и запускает чтение и запись
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Feed client read failed", "remote_addr", c.conn.RemoteAddr().String(), "error", err.Error())
			}
			return
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub отключил клиента
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeQueued(message); err != nil {
				c.logger.Debug("Feed client write failed", "remote_addr", c.conn.RemoteAddr().String(), "error", err.Error())
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeQueued отправляет сообщение и все, что успело накопиться в очереди
func (c *Client) writeQueued(first Message) error {
	if err := c.conn.WriteJSON(first); err != nil {
		return err
	}
	for pending := len(c.send); pending > 0; pending-- {
		message, ok := <-c.send
		if !ok {
			return nil
		}
		if err := c.conn.WriteJSON(message); err != nil {
			return err
		}
	}
	return nil
}
