package toolpack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/sessions"
)

// HTMLPack serves a single HTML page as a tool result, reloading the backing
// file when it changes on disk.
type HTMLPack struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	content string
}

// NewHTMLPack loads the page at path and starts a watcher that keeps the
// cached content current until ctx is cancelled. A watcher setup failure is
// logged, not fatal; the pack then serves the initially loaded content.
func NewHTMLPack(ctx context.Context, path string, log *slog.Logger) (*HTMLPack, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &HTMLPack{path: path, log: log}
	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("failed to load page %s: %w", path, err)
	}
	go p.watch(ctx)
	return p, nil
}

func (p *HTMLPack) reload() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.content = string(b)
	p.mu.Unlock()
	return nil
}

func (p *HTMLPack) watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Debug("fsnotify unavailable", slog.String("err", err.Error()))
		return
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(p.path); err != nil {
		p.log.Debug("fsnotify add failed", slog.String("err", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := p.reload(); err != nil {
					p.log.Warn("page.reload.fail", slog.String("err", err.Error()))
					continue
				}
				p.log.Debug("page.reload", slog.String("path", p.path))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}

// Tools returns the pack's tool set.
func (p *HTMLPack) Tools() []mcpservice.StaticTool {
	page := mcpservice.NewTool("page", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		p.mu.RLock()
		content := p.content
		p.mu.RUnlock()
		return w.AppendBlocks(mcp.ContentBlock{Type: "text", Text: content, MimeType: "text/html"})
	}, mcpservice.WithToolDescription("Returns the served HTML page."))

	return []mcpservice.StaticTool{page}
}
