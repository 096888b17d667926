package present

import (
	"github.com/charmbracelet/lipgloss"

	"roomnotify/internal/notification"
	"roomnotify/internal/realtime"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

type styles struct {
	title  lipgloss.Style
	muted  lipgloss.Style
	unread lipgloss.Style

	success, failure, warning, info lipgloss.Style

	connected, connecting, down, idle lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{
			title: plain, muted: plain, unread: plain,
			success: plain, failure: plain, warning: plain, info: plain,
			connected: plain, connecting: plain, down: plain, idle: plain,
		}
	}
	fg := func(c lipgloss.TerminalColor) lipgloss.Style { return r.NewStyle().Foreground(c) }
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(colorWhite).Background(colorBlue).Padding(0, 1),
		muted:  fg(colorGray),
		unread: r.NewStyle().Bold(true).Foreground(colorWhite).Background(colorRed).Padding(0, 1),

		success: fg(colorGreen).Bold(true),
		failure: fg(colorRed).Bold(true),
		warning: fg(colorYellow).Bold(true),
		info:    fg(colorBlue).Bold(true),

		connected:  fg(colorGreen),
		connecting: fg(colorYellow),
		down:       fg(colorRed),
		idle:       fg(colorGray),
	}
}

func (s styles) category(c notification.Category) lipgloss.Style {
	switch c {
	case notification.CategorySuccess:
		return s.success
	case notification.CategoryError:
		return s.failure
	case notification.CategoryWarning:
		return s.warning
	default:
		return s.info
	}
}

// state mirrors the header dot: green connected, yellow connecting, red when
// down, gray otherwise.
func (s styles) state(st realtime.State) lipgloss.Style {
	switch st {
	case realtime.StateConnected:
		return s.connected
	case realtime.StateConnecting:
		return s.connecting
	case realtime.StateErroring, realtime.StateDisconnected:
		return s.down
	default:
		return s.idle
	}
}
