// Package present renders the notification list and connection state on a
// terminal and accepts panel commands (open, close, list, rm, clear) on stdin.
package present

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"roomnotify/internal/eventbus"
	"roomnotify/internal/notification"
	"roomnotify/internal/realtime"
	logx "roomnotify/pkg/logx"
)

// Source is what the console reads from and acts on. *realtime.Subsystem
// satisfies it.
type Source interface {
	State() realtime.State
	Notifications() []notification.Notification
	Unread() int
	Remove(id string) bool
	ClearAll() int
	SetPanelOpen(open bool)
	PanelOpen() bool
	Subscribe(buffer int) (<-chan eventbus.Event, func())
}

type Options struct {
	Out io.Writer
	// In is read line by line for commands; nil disables input.
	In       io.Reader
	Location *time.Location
	NoColor  bool
	Log      logx.Logger
}

type Console struct {
	src Source
	in  io.Reader
	loc *time.Location
	st  styles
	log logx.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewConsole(src Source, opts Options) *Console {
	if opts.Out == nil {
		opts.Out = logx.Stdout()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Console{
		src: src,
		in:  opts.In,
		loc: opts.Location,
		st:  newStyles(lipgloss.NewRenderer(opts.Out), !opts.NoColor),
		log: opts.Log,
		out: opts.Out,
	}
}

// Run prints state changes and incoming notifications until ctx ends, and
// executes commands read from In.
func (c *Console) Run(ctx context.Context) error {
	events, unsub := c.src.Subscribe(64)
	defer unsub()

	var lines <-chan string
	if c.in != nil {
		lines = readLines(ctx, c.in)
	}

	c.println(c.Header())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.onEvent(ev)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if out := c.Exec(line); out != "" {
				c.println(out)
			}
		}
	}
}

func (c *Console) onEvent(ev eventbus.Event) {
	switch ev.Type {
	case realtime.EventState:
		if ch, ok := ev.Data.(realtime.StateChange); ok {
			c.println(c.Badge(ch.To) + c.st.muted.Render(stateDetail(ch)))
		}
	case realtime.EventAdded:
		if n, ok := ev.Data.(notification.Notification); ok {
			c.println(c.Line(n) + " " + c.bell(c.src.Unread()))
		}
	case realtime.EventRemoved:
		if n, ok := ev.Data.(notification.Notification); ok {
			c.println(c.st.muted.Render("removed: " + n.Message))
		}
	case realtime.EventCleared:
		c.println(c.st.muted.Render("notifications cleared"))
	}
}

func stateDetail(ch realtime.StateChange) string {
	var parts []string
	if ch.Failures > 0 && ch.To != realtime.StateConnected {
		parts = append(parts, fmt.Sprintf("failures=%d", ch.Failures))
	}
	if ch.Error != "" {
		parts = append(parts, ch.Error)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

const helpText = "commands: open | close | list | rm <n|id> | clear | status | help"

// Exec runs one panel command and returns what to print.
func (c *Console) Exec(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	switch strings.ToLower(fields[0]) {
	case "open":
		c.src.SetPanelOpen(true)
		return c.Panel()
	case "close":
		c.src.SetPanelOpen(false)
		return c.Header()
	case "list", "ls":
		return c.Panel()
	case "rm", "remove":
		if len(fields) < 2 {
			return "usage: rm <n|id>"
		}
		id := c.resolve(fields[1])
		if id == "" || !c.src.Remove(id) {
			return "no such notification: " + fields[1]
		}
		return ""
	case "clear":
		n := c.src.ClearAll()
		return fmt.Sprintf("cleared %d notification(s)", n)
	case "status":
		return c.Header()
	case "help", "?":
		return helpText
	default:
		return "unknown command " + strconv.Quote(fields[0]) + "; " + helpText
	}
}

// resolve maps a 1-based list position or an id (or unique id prefix) to an id.
func (c *Console) resolve(arg string) string {
	list := c.src.Notifications()
	if i, err := strconv.Atoi(arg); err == nil {
		if i >= 1 && i <= len(list) {
			return list[i-1].ID
		}
		return ""
	}
	var match string
	for _, n := range list {
		if n.ID == arg {
			return n.ID
		}
		if strings.HasPrefix(n.ID, arg) {
			if match != "" {
				return ""
			}
			match = n.ID
		}
	}
	return match
}

// Header is the status badge plus the unread bell.
func (c *Console) Header() string {
	return c.Badge(c.src.State()) + "  " + c.bell(c.src.Unread())
}

func (c *Console) Badge(s realtime.State) string {
	return c.st.state(s).Render("● " + s.String())
}

func (c *Console) bell(unread int) string {
	if unread == 0 {
		return c.st.muted.Render("no unread")
	}
	return c.st.unread.Render(fmt.Sprintf("%d unread", unread))
}

// Line renders one notification.
func (c *Console) Line(n notification.Notification) string {
	tag := c.st.category(n.Category).Render(fmt.Sprintf("%-7s", n.Category))
	ts := c.st.muted.Render(n.Timestamp.In(c.loc).Format("15:04:05"))
	return tag + " " + ts + " " + n.Message
}

// Panel renders the whole list, most recent first.
func (c *Console) Panel() string {
	list := c.src.Notifications()
	var b strings.Builder
	b.WriteString(c.st.title.Render("Notifications"))
	b.WriteString("  ")
	b.WriteString(c.Header())
	if len(list) == 0 {
		b.WriteString("\n")
		b.WriteString(c.st.muted.Render("No notifications"))
		return b.String()
	}
	for i, n := range list {
		fmt.Fprintf(&b, "\n%2d. %s", i+1, c.Line(n))
	}
	return b.String()
}

// Digest is the one-line summary logged by the periodic digest job.
func (c *Console) Digest() string { return Summary(c.src) }

// Summary counts src's notifications per category.
func Summary(src Source) string {
	list := src.Notifications()
	counts := map[notification.Category]int{}
	for _, n := range list {
		counts[n.Category]++
	}
	return fmt.Sprintf("%d notification(s), %d unread [error=%d warning=%d info=%d success=%d] connection %s",
		len(list), src.Unread(),
		counts[notification.CategoryError], counts[notification.CategoryWarning],
		counts[notification.CategoryInfo], counts[notification.CategorySuccess],
		src.State())
}

func (c *Console) println(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, s+"\n"); err != nil {
		c.log.Debug("console write failed", logx.Err(err))
	}
}

// readLines feeds lines from r until EOF. The reader goroutine cannot be
// interrupted while blocked in Read; it exits at the next line after ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
