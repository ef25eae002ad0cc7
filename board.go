package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// BoardState is the full activity picture pushed to every connected
// console after each mutation.
type BoardState struct {
	Type      string         `json:"type"` // "state"
	Phase     Phase          `json:"phase"`
	Config    GameConfig     `json:"config"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Humans    int            `json:"humans"`
	Zombies   int            `json:"zombies"`
	Devices   []DeviceRecord `json:"devices"`
}

type boardClient struct {
	conn *websocket.Conn
	send chan any
}

func (c *boardClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; the console is view-only. It exists
// so client disconnects are noticed promptly.
func (c *boardClient) readPump(b *Board) {
	defer func() {
		b.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Board fans game state out to any number of connected operator
// consoles.
type Board struct {
	game *Game

	mu      sync.Mutex
	clients map[*boardClient]bool
}

func newBoard(g *Game) *Board {
	b := &Board{
		game:    g,
		clients: make(map[*boardClient]bool),
	}
	g.onChange = b.broadcast

	return b
}

func (b *Board) register(c *boardClient) {
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	c.send <- b.game.State()
}

func (b *Board) unregister(c *boardClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// broadcast pushes the current state to every console. Slow consumers
// are dropped rather than allowed to stall the game.
func (b *Board) broadcast() {
	state := b.game.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		select {
		case client.send <- state:
		default:
			delete(b.clients, client)
			close(client.send)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveBoardWS(cfg *Config, b *Board) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "BOARD: upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := &boardClient{
			conn: conn,
			send: make(chan any, 8),
		}

		b.register(client)

		go client.writePump()
		client.readPump(b)
	}
}

// serveBoardQR renders a PNG QR code of the console URL, respecting TLS
// and X-Forwarded-Proto.
func serveBoardQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at .../board/qr; strip the trailing "/qr" to get the
		// console URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func serveBoardPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(boardHTML))
	}
}

func registerBoard(cfg *Config, b *Board, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/board", serveBoardPage(cfg))
	mux.GET(cfg.prefix+"/board/ws", serveBoardWS(cfg, b))
	mux.GET(cfg.prefix+"/board/qr", serveBoardQR(cfg))
}

// Operator console, kept inline to avoid an asset pipeline.
const boardHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Hordebox</title>
<style>
  body { font-family: system-ui, -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; }
  h1 { margin-bottom: 0.5rem; }
  #phase { font-size: 1.2rem; margin-bottom: 1rem; }
  #controls button, #controls input { margin-right: 0.5rem; }
  table { border-collapse: collapse; margin-top: 1rem; }
  th, td { padding: 0.25rem 0.75rem; border-bottom: 1px solid #ddd; text-align: left; }
  .human { color: #1a7f37; }
  .zombie { color: #b35900; }
</style>
</head>
<body>
<h1>Hordebox</h1>
<div id="phase">Connecting…</div>
<div id="controls">
  <button id="reset">Reset</button>
  <label>human % <input id="percent" type="number" value="50" size="4"></label>
  <label>timeout <input id="timeout" type="number" value="30" size="4"></label>
  <label>duration <input id="duration" type="number" value="60" size="4"></label>
  <button id="prepare">Prepare</button>
  <button id="activate">Activate</button>
  <label>minutes <input id="minutes" type="number" value="5" size="4"></label>
  <button id="extend">Extend</button>
  <button id="end">End</button>
</div>
<table>
  <thead><tr><th>ID</th><th>IP</th><th>RSSI</th><th>Role</th><th>Status</th><th>Health</th><th>Battery</th><th>Comment</th><th>Last seen</th></tr></thead>
  <tbody id="devices"></tbody>
</table>

<script>
(function() {
  const phaseEl = document.getElementById('phase');
  const devicesEl = document.getElementById('devices');
  const base = location.pathname.replace(/\/board$/, '');

  function post(path, body) {
    fetch(base + path, {
      method: 'POST',
      headers: {'Content-Type': 'application/x-www-form-urlencoded'},
      body: body || ''
    });
  }

  document.getElementById('reset').onclick = () => post('/op/reset');
  document.getElementById('prepare').onclick = () => post('/op/prepare',
    'percent=' + document.getElementById('percent').value +
    '&timeout=' + document.getElementById('timeout').value +
    '&duration=' + document.getElementById('duration').value);
  document.getElementById('activate').onclick = () => post('/op/activate');
  document.getElementById('extend').onclick = () => post('/op/extend',
    'minutes=' + document.getElementById('minutes').value);
  document.getElementById('end').onclick = () => post('/op/end');

  const proto = (location.protocol === 'https:') ? 'wss://' : 'ws://';
  const ws = new WebSocket(proto + location.host + location.pathname + '/ws');

  ws.onmessage = function(event) {
    try {
      const msg = JSON.parse(event.data);
      if (msg.type !== 'state') { return; }

      phaseEl.textContent = 'Phase: ' + msg.phase +
        ' — ' + msg.humans + ' humans / ' + msg.zombies + ' zombies' +
        ' — ' + msg.config.human_percent + '% human, poll ' + msg.config.timeout +
        's, duration ' + msg.config.duration + 'm';

      devicesEl.innerHTML = '';
      (msg.devices || []).forEach(function(d) {
        const tr = document.createElement('tr');
        [d.id, d.ip, d.rssi, d.role, d.status, d.health, d.battery, d.comment, d.last_seen].forEach(function(v, i) {
          const td = document.createElement('td');
          td.textContent = v;
          if (i === 3) { td.className = d.role; }
          tr.appendChild(td);
        });
        devicesEl.appendChild(tr);
      });
    } catch (e) {
      console.error('bad message', e);
    }
  };

  ws.onclose = function() {
    phaseEl.textContent = 'Disconnected.';
  };
})();
</script>
</body>
</html>
`
