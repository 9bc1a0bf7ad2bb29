package channels

const webPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>mudscribe</title>
<style>
body { margin: 0; font-family: Georgia, serif; color: #eee; background: #111 center / cover no-repeat; }
#wrap { display: flex; height: 100vh; }
#story { flex: 2; overflow-y: auto; padding: 1em; background: rgba(0,0,0,.65); }
#raw { flex: 1; overflow-y: auto; padding: 1em; font: 12px monospace; background: rgba(0,0,0,.8); white-space: pre-wrap; }
.user { color: #9cf; } .error { color: #f88; }
#status { position: fixed; top: 0; right: 0; padding: .3em .6em; background: #333; }
#status.on { background: #264; }
#bar { position: fixed; bottom: 0; left: 0; right: 0; padding: .5em; background: #222; }
#actions button { margin: 0 .3em .3em 0; }
#input { width: 80%; }
</style>
</head>
<body>
<div id="status">Disconnected</div>
<div id="wrap"><div id="story"></div><div id="raw"></div></div>
<div id="bar"><div id="actions"></div><input id="input" autofocus placeholder="command"><button id="send">Send</button></div>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
const $ = (id) => document.getElementById(id);
function add(pane, text, cls) {
  const p = document.createElement("p");
  p.textContent = text;
  if (cls) p.className = cls;
  $(pane).appendChild(p);
  $(pane).scrollTop = $(pane).scrollHeight;
}
function send(text) {
  if (text) ws.send(JSON.stringify({type: "input", text: text}));
}
ws.onmessage = (ev) => {
  const f = JSON.parse(ev.data);
  switch (f.type) {
    case "narration": add("story", f.text); break;
    case "user": add("story", f.text, "user"); break;
    case "raw": add("raw", f.text); break;
    case "error": add("story", f.text, "error"); break;
    case "image": document.body.style.backgroundImage = "url(" + f.image + ")"; break;
    case "status": $("status").textContent = f.status; $("status").className = f.connected ? "on" : ""; break;
    case "actions":
      $("actions").replaceChildren(...Object.entries(f.actions || {}).map(([cmd, label]) => {
        const b = document.createElement("button");
        b.textContent = label;
        b.title = cmd;
        b.onclick = () => send(cmd);
        return b;
      }));
      break;
  }
};
$("send").onclick = () => { send($("input").value.trim()); $("input").value = ""; };
$("input").onkeydown = (e) => { if (e.key === "Enter") $("send").onclick(); };
</script>
</body>
</html>
`
