// Package sakuragi serves an HTML operator page for a panel: its state, and buttons for setting signals, throwing turnouts, claiming blocks and toggling input circuits.
package sakuragi

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shingou"
	"nyiyui.ca/hato/shingou/panel"
	"nyiyui.ca/hato/shingou/runtime"
	"nyiyui.ca/hato/shingou/track"
)

//go:embed index.html
var templates embed.FS

type Conf struct {
	Panel   *panel.Panel
	Runtime *runtime.Instance
}

type Server struct {
	conf Conf
	sm   *http.ServeMux
	t    *template.Template

	latestMessageLock sync.Mutex
	latestMessage     Message
}

func New(conf Conf) *Server {
	s := &Server{
		conf: conf,
		sm:   http.NewServeMux(),
	}
	s.t = template.Must(template.New("index").Funcs(sprig.FuncMap()).ParseFS(templates, "*.html"))
	s.sm.HandleFunc("/", s.handleIndex)
	s.sm.HandleFunc("/signal/set", s.post(s.setSignal))
	s.sm.HandleFunc("/signal/unset", s.post(s.unsetSignal))
	s.sm.HandleFunc("/turnout", s.post(s.throwTurnout))
	s.sm.HandleFunc("/turnout/complete", s.post(s.completeTurnout))
	s.sm.HandleFunc("/detector", s.post(s.setDetector))
	s.sm.HandleFunc("/input", s.post(s.setInput))
	s.sm.HandleFunc("/block/claim", s.post(s.claimBlock))
	s.sm.HandleFunc("/block/release", s.post(s.releaseBlock))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.sm.ServeHTTP(w, r)
}

func (s *Server) setMessage(m Message) {
	s.latestMessageLock.Lock()
	defer s.latestMessageLock.Unlock()
	s.latestMessage = m
}

func (s *Server) message() Message {
	s.latestMessageLock.Lock()
	defer s.latestMessageLock.Unlock()
	return s.latestMessage
}

func (s *Server) do(ctx context.Context, comment string, fn func(p *panel.Panel) error) error {
	return s.conf.Runtime.Do(ctx, comment, func() error { return fn(s.conf.Panel) })
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var snapshot panel.Snapshot
	err := s.do(r.Context(), "sakuragi snapshot", func(p *panel.Panel) error {
		snapshot = p.Snapshot()
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = s.t.ExecuteTemplate(w, "index", map[string]interface{}{
		"msg":     s.message(),
		"s":       snapshot,
		"latches": len(snapshot.Latches) > 0,
		"now":     time.Now().Format("15:04:05"),
	})
	if err != nil {
		zap.S().Errorw("sakuragi: template failed", "err", err)
	}
}

// post wraps an operator action: it only accepts POST, reports the outcome as the latest message, and redirects back to the index.
func (s *Server) post(action func(r *http.Request) (Message, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m, err := action(r)
		if err != nil {
			zap.S().Infow("sakuragi: action failed",
				"path", r.URL.Path,
				"form", r.PostForm,
				"err", err)
			s.setMessage(Message(err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.setMessage(m)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *Server) setSignal(r *http.Request) (Message, error) {
	module, id := r.PostFormValue("module"), r.PostFormValue("id")
	var ok bool
	err := s.do(r.Context(), "sakuragi set signal", func(p *panel.Panel) (err error) {
		ok, err = p.TrySetSignal(module, id)
		return
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return Message(fmt.Sprintf("%s::%s cannot be set", module, id)), nil
	}
	return Message(fmt.Sprintf("%s::%s set", module, id)), nil
}

func (s *Server) unsetSignal(r *http.Request) (Message, error) {
	module, id := r.PostFormValue("module"), r.PostFormValue("id")
	err := s.do(r.Context(), "sakuragi unset signal", func(p *panel.Panel) error {
		return p.UnsetSignal(module, id)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s::%s unset", module, id)), nil
}

func (s *Server) throwTurnout(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	state, ok := track.ParsePointsState(r.PostFormValue("state"))
	if !ok {
		return "", fmt.Errorf("invalid state %q", r.PostFormValue("state"))
	}
	err := s.do(r.Context(), "sakuragi throw turnout", func(p *panel.Panel) error {
		return p.ThrowTurnout(name, state)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s thrown %s", name, state)), nil
}

func (s *Server) completeTurnout(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	err := s.do(r.Context(), "sakuragi complete turnout", func(p *panel.Panel) error {
		return p.CompleteTurnout(name)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s completed", name)), nil
}

func (s *Server) setDetector(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	occupied, err := strconv.ParseBool(r.PostFormValue("occupied"))
	if err != nil {
		return "", fmt.Errorf("occupied: %w", err)
	}
	err = s.do(r.Context(), "sakuragi set detector", func(p *panel.Panel) error {
		return p.SetOccupied(name, occupied)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s occupied=%t", name, occupied)), nil
}

func (s *Server) setInput(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	active, err := strconv.ParseBool(r.PostFormValue("active"))
	if err != nil {
		return "", fmt.Errorf("active: %w", err)
	}
	err = s.do(r.Context(), "sakuragi set input", func(p *panel.Panel) error {
		return p.SetInput(name, active)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s active=%t", name, active)), nil
}

func (s *Server) claimBlock(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	err := s.do(r.Context(), "sakuragi claim block", func(p *panel.Panel) error {
		return p.ClaimBlock(name)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s claimed", name)), nil
}

func (s *Server) releaseBlock(r *http.Request) (Message, error) {
	name := r.PostFormValue("name")
	err := s.do(r.Context(), "sakuragi release block", func(p *panel.Panel) error {
		return p.ReleaseBlock(name)
	})
	if err != nil {
		return "", err
	}
	return Message(fmt.Sprintf("%s released", name)), nil
}
