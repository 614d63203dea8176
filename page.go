package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Simple HTML client for quick testing
const quizHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Quizgrid</title>
<style>
  body { font-family: system-ui, -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; }
  h1 { margin-bottom: 0.5rem; }
  #status { margin-bottom: 1rem; font-size: 0.9rem; }
  #grid { display: grid; grid-template-columns: repeat(5, 3rem); gap: 4px; }
  #grid button { height: 3rem; font-size: 1rem; }
  #grid button.P { background: #9ecbff; }
  #grid button.C { background: #ffb3a7; }
  #log { margin-top: 1rem; font-size: 0.8rem; white-space: pre-line; }
</style>
</head>
<body>
<h1>Quizgrid</h1>
<div id="status">Connecting…</div>
<div id="grid"></div>
<div id="log"></div>

<script>
(function() {
  const statusEl = document.getElementById('status');
  const gridEl = document.getElementById('grid');
  const logEl = document.getElementById('log');

  const parts = location.pathname.replace(/\/$/, '').split('/');
  const roomId = parts[parts.length - 1];
  const base = parts.slice(0, parts.length - 2).join('/');

  let userId = localStorage.getItem('quizgrid_id');
  if (!userId) {
    userId = Math.random().toString(36).slice(2, 10);
    localStorage.setItem('quizgrid_id', userId);
  }

  const proto = (location.protocol === 'https:') ? 'wss://' : 'ws://';
  const ws = new WebSocket(proto + location.host + base + '/ws');

  function log(text) {
    logEl.textContent = text + '\n' + logEl.textContent;
  }

  function renderGrid(ownership) {
    gridEl.innerHTML = '';
    for (let i = 0; i < 25; i++) {
      const btn = document.createElement('button');
      btn.textContent = i + 1;
      if (ownership && ownership[i]) {
        btn.className = ownership[i];
      }
      btn.onclick = function() {
        ws.send(JSON.stringify({ type: 'cellClick', roomId: roomId, index: i }));
      };
      gridEl.appendChild(btn);
    }
  }

  ws.onopen = function() {
    statusEl.textContent = 'Connected.';
    const username = prompt('Enter your username:') || '';
    if (username) {
      ws.send(JSON.stringify({ type: 'joinRoom', roomId: roomId, userId: userId, username: username }));
    }
    renderGrid(null);
  };

  ws.onmessage = function(event) {
    try {
      const msg = JSON.parse(event.data);

      switch (msg.type) {
      case 'gameStarted':
      case 'updatePlayers':
        renderGrid(msg.cellOwnership);
        statusEl.textContent = 'Turn: ' + (msg.currentTurn || '(waiting)');
        log(msg.type + ': ' + msg.players.map(function(p) { return p.username + '=' + p.score; }).join(', '));
        break;
      case 'updateOwnership':
        log('cell ' + msg.cellIndex + ' → ' + msg.owner);
        break;
      case 'updateTurn':
        statusEl.textContent = 'Turn: ' + msg.currentTurn;
        break;
      case 'cellClick':
        log('cell ' + msg.index + ' selected (' + msg.seconds + 's)');
        break;
      case 'gameOver':
      case 'gameEnded':
        statusEl.textContent = msg.message;
        break;
      case 'error':
        statusEl.textContent = msg.message;
        break;
      }
    } catch (e) {
      console.error('bad message', e);
    }
  };

  ws.onclose = function() {
    statusEl.textContent = 'Disconnected.';
  };

  ws.onerror = function() {
    statusEl.textContent = 'Error with WebSocket.';
  };
})();
</script>
</body>
</html>
`

func quizPageHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(quizHTML))
}
