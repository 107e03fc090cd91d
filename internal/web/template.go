package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/status"
)

var funcs = template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orNone": func(s string) string {
		if s == "" {
			return "none"
		}
		return s
	},
}

var (
	boardTmpl = template.Must(template.New("board").Funcs(funcs).Parse(boardHTML))
	adminTmpl = template.Must(template.New("admin").Funcs(funcs).Parse(adminHTML))
)

const boardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 0; padding: 1em 2em; background: #fafafa; }
h1 { font-size: 1.6em; }
#history { display: flex; flex-wrap: wrap; gap: 1em; }
.card { background: #fff; border: 1px solid #ddd; border-radius: 6px; padding: 1em; width: 260px; }
.card img { max-width: 100%; }
.card .room { color: #666; }
.empty { color: #888; }
.pressed { font-family: monospace; }
.live-dot { display: inline-block; width: 10px; height: 10px; border-radius: 50%; margin-left: 8px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
footer { margin-top: 2em; font-family: monospace; font-size: 0.8em; color: #888; }
</style>
</head>
<body>
<h1 id="title">{{.Title}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>
<p>Pressed: <span id="pressed" class="pressed">{{if .Pressed}}{{range $i, $p := .Pressed}}{{if $i}}, {{end}}{{$p}}{{end}}{{else}}none{{end}}</span></p>
<div id="history"><p class="empty">Press a course button to see it here.</p></div>
<footer>
backend {{orNone .Backend.Backend}} &middot; clear pin {{.Layout.ClearPin}} &middot; up {{uptime .Uptime}} &middot; <a href="/index.json">status</a>
</footer>
<script>
(function() {
  var courses = {};
  var history = [];
  var dot = document.getElementById("live-dot");
  var historyEl = document.getElementById("history");
  var pressedEl = document.getElementById("pressed");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function text(tag, cls, value) {
    var el = document.createElement(tag);
    if (cls) el.className = cls;
    el.textContent = value;
    return el;
  }

  function render() {
    historyEl.innerHTML = "";
    if (history.length === 0) {
      historyEl.appendChild(text("p", "empty", "Press a course button to see it here."));
      return;
    }
    history.slice().reverse().forEach(function(id) {
      var c = courses[id];
      if (!c) return;
      var card = document.createElement("div");
      card.className = "card";
      if (c.image_path) {
        var img = document.createElement("img");
        img.src = c.image_path;
        img.alt = c.title;
        card.appendChild(img);
      }
      card.appendChild(text("h2", "", c.title));
      card.appendChild(text("p", "room", c.room));
      card.appendChild(text("p", "", c.description));
      card.appendChild(text("p", "", c.overview));
      historyEl.appendChild(card);
    });
  }

  function setCourses(list) {
    courses = {};
    list.forEach(function(c) { courses[c.course_id] = c; });
  }

  function setPressed(pins) {
    pressedEl.textContent = pins.length ? pins.join(", ") : "none";
  }

  function refetchCourses() {
    fetch("/api/courses").then(function(r) { return r.json(); }).then(function(list) {
      setCourses(list);
      render();
    });
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    var keepalive;

    ws.onopen = function() {
      setDot("ok", "live");
      keepalive = setInterval(function() { ws.send("ping"); }, 30000);
    };
    ws.onclose = function() {
      clearInterval(keepalive);
      setDot("err", "offline");
      setTimeout(connect, 2000);
    };
    ws.onmessage = function(ev) {
      if (ev.data === "pong") return;
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      switch (msg.type) {
      case "hello":
        document.title = msg.title;
        break;
      case "state":
        setCourses(msg.courses);
        history = msg.history_course_ids;
        setPressed(msg.pressed_pins);
        render();
        break;
      case "pressed_update":
        setPressed(msg.pressed_pins);
        break;
      case "course_added":
        courses[msg.course.course_id] = msg.course;
        history.push(msg.course.course_id);
        render();
        break;
      case "history_cleared":
        history = [];
        render();
        break;
      case "courses_updated":
        refetchCourses();
        break;
      }
    };
  }

  connect();
})();
</script>
</body>
</html>
`

const adminHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} Admin</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
textarea { width: 100%; height: 9em; }
</style>
</head>
<body>
<h1>{{.Title}} Admin</h1>
<h2>Courses</h2>
<table id="courses"><tr><th>ID</th><th>Title</th><th>Room</th><th>Pin</th><th></th></tr></table>
<h2>Recent presses</h2>
<table id="presses"><tr><th>Time</th><th>Pin</th><th>Course</th><th>Action</th><th>Source</th></tr></table>
<p><button id="clear">Clear history</button></p>
<h2>Arduino wiring</h2>
<textarea id="serial"></textarea>
<p><button id="save-serial">Save and restart input</button> <span id="serial-status"></span></p>
<script>
(function() {
  function row(table, cells) {
    var tr = document.createElement("tr");
    cells.forEach(function(c) {
      var td = document.createElement("td");
      if (c instanceof Node) td.appendChild(c); else td.textContent = c;
      tr.appendChild(td);
    });
    table.appendChild(tr);
  }

  function load() {
    var courses = document.getElementById("courses");
    var presses = document.getElementById("presses");
    while (courses.rows.length > 1) courses.deleteRow(1);
    while (presses.rows.length > 1) presses.deleteRow(1);

    fetch("/api/courses").then(function(r) { return r.json(); }).then(function(list) {
      list.forEach(function(c) {
        var del = document.createElement("button");
        del.textContent = "delete";
        del.onclick = function() {
          fetch("/api/admin/courses/" + encodeURIComponent(c.course_id), { method: "DELETE" }).then(load);
        };
        row(courses, [c.course_id, c.title, c.room, c.button_gpio_pin, del]);
      });
    });
    fetch("/api/admin/presses?n=50").then(function(r) { return r.json(); }).then(function(list) {
      list.reverse().forEach(function(e) {
        row(presses, [e.timestamp, e.pin, e.course_id || "", e.action, e.source || ""]);
      });
    });
  }

  var serial = document.getElementById("serial");
  var serialStatus = document.getElementById("serial-status");
  fetch("/api/admin/arduino-config").then(function(r) { return r.json(); }).then(function(s) {
    serial.value = JSON.stringify(s, null, 2);
  });
  document.getElementById("save-serial").onclick = function() {
    fetch("/api/admin/arduino-config", { method: "POST", body: serial.value })
      .then(function(r) { return r.json(); })
      .then(function(res) { serialStatus.textContent = res.error || res.message; });
  };

  document.getElementById("clear").onclick = function() {
    fetch("/api/clear", { method: "POST" }).then(load);
  };
  load();
})();
</script>
</body>
</html>
`

func renderBoard(w io.Writer, title string, snap status.Snapshot) {
	// Snapshot has an Uptime method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Title  string
		Uptime time.Duration
	}{
		Snapshot: snap,
		Title:    title,
		Uptime:   snap.Uptime(),
	}
	if err := boardTmpl.Execute(w, data); err != nil {
		log.Debugf("web: render board: %v", err)
	}
}

func renderAdmin(w io.Writer, title string) {
	if err := adminTmpl.Execute(w, struct{ Title string }{title}); err != nil {
		log.Debugf("web: render admin: %v", err)
	}
}
